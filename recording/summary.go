package recording

import (
	"context"
	"fmt"
)

// RoundSummary is a round read back from a recording.
type RoundSummary struct {
	RoundEntry
	DeviceIDs []int
}

func (s RoundSummary) String() string {
	return fmt.Sprintf("%s round %d: roster %d, selectors %d, participants %v",
		s.Server, s.Number, s.RosterSize, s.NumSelectors, s.DeviceIDs)
}

// ReadRounds reads every recorded round with its participants, ordered by
// server and round number.
func ReadRounds(ctx context.Context, reader DataReader) ([]RoundSummary, error) {
	reader.MapTable(RoundsTable, RoundEntry{})
	reader.MapTable(ParticipantsTable, ParticipantEntry{})

	rounds, _, err := reader.Query(ctx, RoundsTable, QueryParams{
		OrderBy: "Server, Number",
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]RoundSummary, 0, len(rounds))
	for _, r := range rounds {
		entry := r.(*RoundEntry)

		participants, _, err := reader.Query(ctx, ParticipantsTable,
			QueryParams{
				Where:   "RoundID = ?",
				Args:    []any{entry.ID},
				OrderBy: "Selector, rowid",
			})
		if err != nil {
			return nil, err
		}

		s := RoundSummary{RoundEntry: *entry}
		for _, p := range participants {
			s.DeviceIDs = append(s.DeviceIDs, p.(*ParticipantEntry).DeviceID)
		}

		summaries = append(summaries, s)
	}

	return summaries, nil
}

// CountMessages returns the number of recorded messages at a hook position,
// or at every position when pos is empty.
func CountMessages(ctx context.Context, reader DataReader, pos string) (int, error) {
	reader.MapTable(MessagesTable, MsgEntry{})

	params := QueryParams{Limit: 1}
	if pos != "" {
		params.Where = "Pos = ?"
		params.Args = []any{pos}
	}

	_, n, err := reader.Query(ctx, MessagesTable, params)

	return n, err
}
