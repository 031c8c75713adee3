package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

const maxDisplayNameLength = 40

type JoinRequest struct {
	Code              string
	DisplayName       string
	DeviceFingerprint string
	Avatar            string
}

type JoinResult struct {
	Event       livequiz.Event
	Participant livequiz.Participant
	IsRejoining bool
}

// Join admits a device to the event behind a join code. A device that
// already joined gets its existing identity back, even when the event is
// locked. New devices are refused while the event is locked or while the
// device belongs to another active event, and receive a display name
// that is unique within the event.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	req.Code = NormalizeCode(req.Code)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.DeviceFingerprint = strings.TrimSpace(req.DeviceFingerprint)
	req.Avatar = strings.TrimSpace(req.Avatar)

	if req.Code == "" {
		return JoinResult{}, livequiz.ErrEventNotFound
	}
	if req.DisplayName == "" {
		return JoinResult{}, livequiz.InvalidInput("display name is required")
	}
	if len([]rune(req.DisplayName)) > maxDisplayNameLength {
		return JoinResult{}, livequiz.InvalidInput("display name must be at most %d characters", maxDisplayNameLength)
	}
	if req.DeviceFingerprint == "" {
		return JoinResult{}, livequiz.InvalidInput("device fingerprint is required")
	}

	eventID, err := e.eventIDByCode(ctx, req.Code)
	if err != nil {
		return JoinResult{}, err
	}

	var res JoinResult
	err = e.exec(ctx, eventID, func(st *eventState) error {
		if st.event.Status != livequiz.EventActive {
			return livequiz.ErrEventNotFound
		}

		if pid, ok := st.byDevice[req.DeviceFingerprint]; ok {
			p, err := e.rejoin(ctx, st, pid, req.Avatar)
			if err != nil {
				return err
			}
			res = JoinResult{Event: st.event, Participant: p, IsRejoining: true}
			return nil
		}

		if st.event.IsLocked() && !e.inGracePeriod(st) {
			return livequiz.ErrEventLocked
		}

		if err := e.claimDevice(ctx, st.event.ID, req.DeviceFingerprint); err != nil {
			return err
		}

		p := livequiz.Participant{
			ID:                uuid.NewString(),
			EventID:           st.event.ID,
			DeviceFingerprint: req.DeviceFingerprint,
			DisplayName:       st.uniqueName(req.DisplayName),
			Avatar:            req.Avatar,
			Connection:        livequiz.Disconnected,
			JoinedAt:          e.clock.Now(),
		}
		if err := e.store.SaveParticipant(ctx, p); err != nil {
			if rerr := e.locks.Release(ctx, p.DeviceFingerprint, st.event.ID); rerr != nil {
				e.logger.Warn("releasing device lock after failed join", "event_id", st.event.ID, "error", rerr)
			}
			return err
		}
		st.addParticipant(p)
		res = JoinResult{Event: st.event, Participant: p}

		e.publish(st, "", broadcast.KindRoster, st.roster())
		e.logger.Info("participant joined",
			"event_id", st.event.ID, "participant_id", p.ID, "display_name", p.DisplayName)
		return nil
	})
	return res, err
}

func (e *Engine) rejoin(ctx context.Context, st *eventState, participantID, avatar string) (livequiz.Participant, error) {
	p := st.participants[participantID]
	if avatar != "" && avatar != p.Avatar {
		next := *p
		next.Avatar = avatar
		if err := e.store.SaveParticipant(ctx, next); err != nil {
			return livequiz.Participant{}, err
		}
		*p = next
		e.publish(st, "", broadcast.KindRoster, st.roster())
	}
	e.logger.Info("participant rejoined", "event_id", st.event.ID, "participant_id", p.ID)
	return *p, nil
}

func (e *Engine) inGracePeriod(st *eventState) bool {
	if e.opts.JoinGracePeriod <= 0 || st.event.LockedAt == nil {
		return false
	}
	return e.clock.Since(*st.event.LockedAt) < e.opts.JoinGracePeriod
}

// claimDevice takes the device lock for eventID. A lock left behind by an
// event that has since ended is reclaimed.
func (e *Engine) claimDevice(ctx context.Context, eventID, fingerprint string) error {
	holder, err := e.locks.Acquire(ctx, fingerprint, eventID)
	if err != nil {
		return err
	}
	if holder == eventID {
		return nil
	}

	status, err := e.store.EventStatus(ctx, holder)
	switch {
	case errors.Is(err, livequiz.ErrEventNotFound), err == nil && status == livequiz.EventEnded:
		e.logger.Info("reclaiming stale device lock", "event_id", eventID, "stale_event_id", holder)
		if err := e.locks.Release(ctx, fingerprint, holder); err != nil {
			return err
		}
		holder, err = e.locks.Acquire(ctx, fingerprint, eventID)
		if err != nil {
			return err
		}
		if holder == eventID {
			return nil
		}
	case err != nil:
		return fmt.Errorf("checking device holder: %w", err)
	}
	return livequiz.ErrDeviceConflict
}

// uniqueName returns base, or base followed by the smallest suffix " N"
// (N >= 2) that no participant in the event uses. Comparison ignores case.
// Long bases are shortened so the result stays within
// maxDisplayNameLength.
func (st *eventState) uniqueName(base string) string {
	if _, taken := st.names[foldName(base)]; !taken {
		return base
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf(" %d", n)
		candidate := truncateName(base, maxDisplayNameLength-len(suffix)) + suffix
		if _, taken := st.names[foldName(candidate)]; !taken {
			return candidate
		}
	}
}

func truncateName(name string, n int) string {
	r := []rune(name)
	if len(r) <= n {
		return name
	}
	return strings.TrimRight(string(r[:n]), " ")
}
