package sim

import "sort"

// applyActivations resolves task-completion intents. A failed precondition is
// a silent no-op: failed intents are normal gameplay, not errors.
func (s *GameState) applyActivations(frames []InputFrame) {
	for _, frame := range frames {
		if !frame.Intents.Activate {
			continue
		}
		player, ok := s.Players[frame.PlayerID]
		if !ok || !player.Alive || player.Absent || player.Role == RoleImpostor {
			continue
		}
		best := -1
		bestDistance := s.Settings.TaskDistance
		for i, task := range player.Tasks {
			if task.Done {
				continue
			}
			if d := distance(player.X, player.Y, task.X, task.Y); d < bestDistance {
				best = i
				bestDistance = d
			}
		}
		if best >= 0 {
			player.Tasks[best].Done = true
		}
	}
	s.checkCrewTaskWin()
}

// resolveKillsAndReports runs the final stage of a playing-phase tick.
// Reports against bodies that already existed before this tick resolve first;
// then kills land; then reports are retried against the full body set,
// including bodies created this very tick. The first successful report opens
// the meeting and freezes everything that follows.
func (s *GameState) resolveKillsAndReports(frames []InputFrame) {
	preexisting := s.Tick
	if s.applyReports(frames, preexisting) {
		return
	}
	s.applyKills(frames)
	if s.Phase != PhasePlaying {
		// A kill may have ended the match.
		return
	}
	s.applyReports(frames, 0)
}

// applyKills resolves kill intents in sorted actor order. Validity: actor
// alive and impostor, cooldown elapsed, and a living crew target within kill
// range. The nearest eligible target dies; ties break by target id via the
// sorted roster walk.
func (s *GameState) applyKills(frames []InputFrame) {
	for _, frame := range frames {
		if !frame.Intents.Kill {
			continue
		}
		actor, ok := s.Players[frame.PlayerID]
		if !ok || !actor.Alive || actor.Absent || actor.Role != RoleImpostor {
			continue
		}
		if s.Tick < actor.KillReadyAt {
			continue
		}
		var victim *PlayerState
		closest := s.Settings.KillDistance
		for _, id := range s.PlayerIDs() {
			target := s.Players[id]
			if target.ID == actor.ID || !target.Alive || target.Role == RoleImpostor {
				continue
			}
			if d := distance(actor.X, actor.Y, target.X, target.Y); d < closest {
				victim = target
				closest = d
			}
		}
		if victim == nil {
			continue
		}
		victim.Alive = false
		s.Bodies = append(s.Bodies, Body{
			PlayerID:    victim.ID,
			X:           victim.X,
			Y:           victim.Y,
			CreatedTick: s.Tick,
		})
		// The killer steps onto the body.
		actor.X = victim.X
		actor.Y = victim.Y
		actor.KillReadyAt = s.Tick + s.Settings.KillCooldownTicks
		s.checkImpostorWin()
		if s.Phase == PhaseEnded {
			return
		}
	}
}

// applyReports resolves report intents in sorted reporter order. Only bodies
// created strictly before beforeTick are considered; beforeTick of zero means
// every body. Returns true when a report opened the meeting.
func (s *GameState) applyReports(frames []InputFrame, beforeTick uint64) bool {
	for _, frame := range frames {
		if !frame.Intents.Report {
			continue
		}
		reporter, ok := s.Players[frame.PlayerID]
		if !ok || !reporter.Alive || reporter.Absent {
			continue
		}
		for _, body := range s.sortedBodies() {
			if beforeTick > 0 && body.CreatedTick >= beforeTick {
				continue
			}
			if distance(reporter.X, reporter.Y, body.X, body.Y) < s.Settings.ReportDistance {
				s.startVoting()
				return true
			}
		}
	}
	return false
}

func (s *GameState) sortedBodies() []Body {
	bodies := append([]Body(nil), s.Bodies...)
	sort.Slice(bodies, func(i, j int) bool {
		if bodies[i].CreatedTick != bodies[j].CreatedTick {
			return bodies[i].CreatedTick < bodies[j].CreatedTick
		}
		return bodies[i].PlayerID < bodies[j].PlayerID
	})
	return bodies
}

func (s *GameState) startVoting() {
	s.Phase = PhaseVoting
	s.Voting = &VotingState{
		StartedTick: s.Tick,
		EndsTick:    s.Tick + s.Settings.VotingWindowTicks,
		Votes:       make(map[string]VoteIntent),
	}
}

// applyVotes records votes cast during the voting phase. A voter's first
// recorded vote is final; votes for dead or absent targets are no-ops.
func (s *GameState) applyVotes(frames []InputFrame) {
	for _, frame := range frames {
		if frame.Vote == nil {
			continue
		}
		voter, ok := s.Players[frame.PlayerID]
		if !ok || !voter.Alive || voter.Absent {
			continue
		}
		if _, voted := s.Voting.Votes[voter.ID]; voted {
			continue
		}
		vote := *frame.Vote
		if !vote.Skip {
			target, ok := s.Players[vote.TargetID]
			if !ok || !target.Alive || target.Absent {
				continue
			}
		}
		s.Voting.Votes[voter.ID] = vote
	}
}

// maybeResolveVote closes the meeting when the window expires or every
// eligible voter has voted. Majority ejects; a tie or a skip majority ejects
// no one. Afterwards bodies are cleared and play resumes with kill cooldowns
// reset.
func (s *GameState) maybeResolveVote() {
	if s.Voting == nil {
		return
	}
	allVoted := true
	for _, id := range s.PlayerIDs() {
		player := s.Players[id]
		if player.Alive && !player.Absent {
			if _, ok := s.Voting.Votes[id]; !ok {
				allVoted = false
				break
			}
		}
	}
	if s.Tick < s.Voting.EndsTick && !allVoted {
		return
	}

	if ejected := tallyVotes(s.Voting.Votes); ejected != "" {
		if target, ok := s.Players[ejected]; ok {
			target.Alive = false
		}
	}

	s.Voting = nil
	s.Bodies = nil
	s.Phase = PhasePlaying
	for _, player := range s.Players {
		if player.Role == RoleImpostor {
			player.KillReadyAt = s.Tick + s.Settings.KillCooldownTicks
		}
	}
	s.checkCrewTaskWin()
	s.checkImpostorWin()
	s.checkCrewEjectionWin()
}

// tallyVotes returns the id of the player with a strict plurality, or empty
// when the skip option wins or the top targets tie.
func tallyVotes(votes map[string]VoteIntent) string {
	counts := make(map[string]int)
	skips := 0
	for _, vote := range votes {
		if vote.Skip {
			skips++
			continue
		}
		counts[vote.TargetID]++
	}
	targets := make([]string, 0, len(counts))
	for id := range counts {
		targets = append(targets, id)
	}
	sort.Strings(targets)
	top, topCount, tied := "", 0, false
	for _, id := range targets {
		switch {
		case counts[id] > topCount:
			top, topCount, tied = id, counts[id], false
		case counts[id] == topCount:
			tied = true
		}
	}
	if top == "" || tied || skips >= topCount {
		return ""
	}
	return top
}

// checkImpostorWin ends the match when the impostors reach parity with the
// living crew.
func (s *GameState) checkImpostorWin() {
	crew, impostors := s.AlivePlayers()
	if impostors > 0 && impostors >= crew {
		s.Phase = PhaseEnded
		s.Winner = TeamImpostors
	}
}

// checkCrewTaskWin ends the match when every task belonging to living crew is
// finished. Dead players cannot activate, so their unfinished tasks do not
// gate the win.
func (s *GameState) checkCrewTaskWin() {
	if s.Phase == PhaseEnded {
		return
	}
	sawCrew := false
	for _, player := range s.Players {
		if player.Role == RoleImpostor || !player.Alive {
			continue
		}
		sawCrew = true
		for _, task := range player.Tasks {
			if !task.Done {
				return
			}
		}
	}
	if sawCrew {
		s.Phase = PhaseEnded
		s.Winner = TeamCrew
	}
}

// checkCrewEjectionWin ends the match when no impostor remains alive.
func (s *GameState) checkCrewEjectionWin() {
	if s.Phase == PhaseEnded {
		return
	}
	_, impostors := s.AlivePlayers()
	if impostors == 0 {
		s.Phase = PhaseEnded
		s.Winner = TeamCrew
	}
}
