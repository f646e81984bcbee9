package attention

// Recompute reduces all sessions' pending counts into the aggregate badge.
// When the badge preference is off the externally-visible count is forced to
// 0; internal counts keep accruing so re-enabling the preference immediately
// reflects the true backlog.
func (p *Policy) Recompute() {
	p.mu.Lock()
	total := 0
	for _, n := range p.pending {
		if n > 0 {
			total += n
		}
	}
	onBadge := p.onBadge
	p.mu.Unlock()

	visible := total
	if !p.prefs.BadgeEnabled() {
		visible = 0
	}

	p.shell.SetBadgeCount(visible)
	if onBadge != nil {
		onBadge(visible)
	}
}

// BadgeCount returns the externally-visible badge value.
func (p *Policy) BadgeCount() int {
	p.mu.Lock()
	total := 0
	for _, n := range p.pending {
		if n > 0 {
			total += n
		}
	}
	p.mu.Unlock()

	if !p.prefs.BadgeEnabled() {
		return 0
	}
	return total
}
