// Copyright 2025-2026 spore.ink

package qq

import (
	"context"

	"github.com/rs/zerolog"
)

// ReportUnjoinedGroups diffs the configured group set against the groups
// the logged-in account actually belongs to and logs each configured
// group that is missing. It is observability only: no join is attempted,
// and a fetch failure abandons the check for this run without raising an
// error.
func ReportUnjoinedGroups(ctx context.Context, api GroupAPI, configured []int64, log zerolog.Logger) {
	joined, err := api.FetchGroupList(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch joined group list, skipping membership check")
		return
	}
	joinedSet := make(map[int64]struct{}, len(joined))
	for _, g := range joined {
		joinedSet[g.ID] = struct{}{}
	}

	var missing []int64
	for _, id := range configured {
		if _, ok := joinedSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		log.Info().Int("count", len(configured)).Msg("All configured groups joined")
		return
	}

	infos, err := api.FetchGroupInfos(ctx, missing)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch info for unjoined groups, skipping membership check")
		return
	}
	for _, g := range infos {
		log.Warn().
			Int64("group_id", g.ID).
			Str("group_name", g.Name).
			Msg("Configured group not joined by the QQ account")
	}
}
