package steward

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
	"time"
)

// memberCache holds the last seen copy of each main guild member, so
// member updates can be compared against what the member looked like
// before
type memberCache struct {
	mu      sync.RWMutex
	members map[string]*discordgo.Member
}

func newMemberCache() *memberCache {
	return &memberCache{members: map[string]*discordgo.Member{}}
}

// load replaces the cache contents
func (m *memberCache) load(members []*discordgo.Member) {
	cached := make(map[string]*discordgo.Member, len(members))
	for _, member := range members {
		if member != nil && member.User != nil {
			cached[member.User.ID] = member
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = cached
}

// set stores member, returning the previously cached copy (if any)
func (m *memberCache) set(member *discordgo.Member) *discordgo.Member {
	if member == nil || member.User == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.members[member.User.ID]
	m.members[member.User.ID] = member
	return prev
}

// remove drops the member, returning the cached copy (if any)
func (m *memberCache) remove(userID string) *discordgo.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.members[userID]
	delete(m.members, userID)
	return prev
}

func (m *memberCache) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// onMemberUpdate welcomes members who just received the Guest role, and
// tracks time-outs applied without /strike
func (s *Steward) onMemberUpdate(ctx context.Context, member *discordgo.Member) {
	if member == nil || member.User == nil || member.User.Bot {
		return
	}
	_, logger := s.getLogger(ctx)
	logger = logger.With(slog.Group("user", userLogAttrs(member.User)...))
	ctx = WithLogger(ctx, logger)

	prev := s.members.set(member)
	if prev == nil {
		logger.DebugContext(ctx, "member update for uncached member")
		return
	}

	if guest, err := s.role(ctx, roleNameGuest); err == nil {
		if !hasRole(prev, guest) && hasRole(member, guest) {
			s.onGuestRoleGained(ctx, member)
		}
	}

	if timedOutNow(prev, member, s.now()) {
		if err := s.trackManualModeration(
			ctx,
			member.User,
			discordgo.AuditLogActionMemberUpdate,
		); err != nil {
			logger.ErrorContext(ctx, "error tracking manual time-out", tint.Err(err))
		}
	}
}

// timedOutNow reports whether the update applied a new time-out
func timedOutNow(before, after *discordgo.Member, now time.Time) bool {
	if after.CommunicationDisabledUntil == nil || !after.CommunicationDisabledUntil.After(now) {
		return false
	}
	if before.CommunicationDisabledUntil == nil {
		return true
	}
	return !before.CommunicationDisabledUntil.Equal(*after.CommunicationDisabledUntil)
}

// onMemberRemove records the roles held by a member who left, and tracks
// kicks made without /strike
func (s *Steward) onMemberRemove(ctx context.Context, member *discordgo.Member) {
	if member == nil || member.User == nil || member.User.Bot {
		return
	}
	_, logger := s.getLogger(ctx)
	logger = logger.With(slog.Group("user", userLogAttrs(member.User)...))
	ctx = WithLogger(ctx, logger)

	if cached := s.members.remove(member.User.ID); cached != nil && len(member.Roles) == 0 {
		member = cached
	}

	roles, err := s.guildRoles(ctx)
	if err != nil {
		logger.WarnContext(ctx, "unable to record roles of leaving member", tint.Err(err))
	} else {
		left := &LeftMember{Roles: memberRoleNames(member, rolesByID(roles))}
		if _, err = s.writeDB.Create(ctx, left); err != nil {
			logger.ErrorContext(ctx, "error recording left member", tint.Err(err))
		}
	}

	if err = s.trackManualModeration(
		ctx,
		member.User,
		discordgo.AuditLogActionMemberKick,
	); err != nil {
		logger.ErrorContext(ctx, "error tracking manual kick", tint.Err(err))
	}
}

func (s *Steward) onBanAdd(ctx context.Context, user *discordgo.User) {
	if user == nil || user.Bot {
		return
	}
	_, logger := s.getLogger(ctx)
	if err := s.trackManualModeration(
		ctx,
		user,
		discordgo.AuditLogActionMemberBanAdd,
	); err != nil {
		logger.ErrorContext(
			ctx,
			"error tracking manual ban",
			slog.Group("user", userLogAttrs(user)...),
			tint.Err(err),
		)
	}
}
