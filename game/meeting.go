package game

import (
	"time"

	"github.com/aryansinha9/irl-among-us/models"
)

// Phase of a meeting, derived from timestamps on every read.
type Phase string

const (
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
)

// Fallback phase lengths for meetings written without end stamps.
const (
	fallbackDiscussion = 30 * time.Second
	fallbackVoting     = 60 * time.Second
)

// NewMeeting opens a meeting at now using the lobby's configured times.
func NewMeeting(callerID string, reason models.MeetingReason, settings models.Settings, now time.Time) *models.Meeting {
	discussionEnd := now.Add(time.Duration(settings.DiscussionTime) * time.Second)
	votingEnd := discussionEnd.Add(time.Duration(settings.VotingTime) * time.Second)
	return &models.Meeting{
		CallerID:        callerID,
		Reason:          reason,
		StartedAt:       Millis(now),
		DiscussionEndAt: Millis(discussionEnd),
		VotingEndAt:     Millis(votingEnd),
		Votes:           map[string]string{},
	}
}

// PhaseAt derives the phase and the time left in it. Once voting time runs
// out the phase stays voting with zero remaining; nothing resolves the
// meeting until endMeeting is called.
func PhaseAt(m *models.Meeting, now time.Time) (Phase, time.Duration) {
	discussionEnd := m.DiscussionEndAt
	if discussionEnd == 0 {
		discussionEnd = m.StartedAt + fallbackDiscussion.Milliseconds()
	}
	votingEnd := m.VotingEndAt
	if votingEnd == 0 {
		votingEnd = discussionEnd + fallbackVoting.Milliseconds()
	}

	nowMs := Millis(now)
	switch {
	case nowMs < discussionEnd:
		return PhaseDiscussion, time.Duration(discussionEnd-nowMs) * time.Millisecond
	case nowMs < votingEnd:
		return PhaseVoting, time.Duration(votingEnd-nowMs) * time.Millisecond
	default:
		return PhaseVoting, 0
	}
}

// VoteCount is the tally behind a meeting result.
type VoteCount struct {
	Candidates map[string]int
	Skips      int
	Total      int
}

// Tally counts the submitted votes of living players and resolves the
// meeting. Players who never voted are left out entirely. Votes for players
// no longer in the lobby are dropped. A tie for the top count never ejects,
// and neither does a skip count that reaches the top count.
func Tally(l *models.Lobby) (models.MeetingResult, VoteCount) {
	count := VoteCount{Candidates: map[string]int{}}
	for _, p := range l.Players {
		if p.IsDead() || !p.HasVoted || p.VotedFor == nil {
			continue
		}
		target := *p.VotedFor
		if target == models.SkipVote {
			count.Skips++
			count.Total++
			continue
		}
		if _, ok := l.Players[target]; !ok {
			continue
		}
		count.Candidates[target]++
		count.Total++
	}

	if count.Total == 0 {
		return models.MeetingResult{Method: models.MethodSkip}, count
	}

	maxVotes := 0
	leader := ""
	tie := false
	for id, n := range count.Candidates {
		switch {
		case n > maxVotes:
			maxVotes, leader, tie = n, id, false
		case n == maxVotes:
			tie = true
		}
	}

	switch {
	case tie:
		return models.MeetingResult{Method: models.MethodTie}, count
	case count.Skips >= maxVotes:
		return models.MeetingResult{Method: models.MethodSkip}, count
	default:
		ejected := leader
		return models.MeetingResult{EjectedID: &ejected, Method: models.MethodVote}, count
	}
}
