package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chathub/internal/dates"
)

type usageResponse struct {
	Used           int  `json:"used"`
	UsedShared     int  `json:"used_shared"`
	UsedPersonal   int  `json:"used_personal"`
	Limit          *int `json:"limit"`     // null when unlimited
	Remaining      *int `json:"remaining"` // null when unlimited
	DefaultLimit   int  `json:"default_limit"`
	HasPersonalKey bool `json:"has_personal_key"`
}

func (s server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	rep, err := s.svc.UsageReport(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Used:           rep.UsedTotal,
		UsedShared:     rep.UsedShared,
		UsedPersonal:   rep.UsedPersonal,
		Limit:          rep.Limit,
		Remaining:      rep.Remaining,
		DefaultLimit:   rep.DefaultLimit,
		HasPersonalKey: rep.HasPersonalKey,
	})
}

type usageDayDTO struct {
	Day       string `json:"day"`
	Responses int    `json:"responses"`
}

// handleGetUsageHistory returns per-day totals for the trailing window,
// zero-filled so the client can chart it directly.
func (s server) handleGetUsageHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	n := 7
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = clampInt(parsed, 1, 90)
		}
	}

	days := dates.RecentUTCDays(n, time.Now())
	counts, err := s.usage.RecentUsage(r.Context(), user.ID, days)
	if err != nil {
		logError(r.Context(), "usage history query failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	out := make([]usageDayDTO, 0, len(days))
	for _, d := range days {
		out = append(out, usageDayDTO{
			Day:       d.Format("2006-01-02"),
			Responses: counts[d],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}
