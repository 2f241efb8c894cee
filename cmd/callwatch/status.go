package main

import (
	"log/slog"
	"net/http"
	"sort"

	"dialer-realtime/internal/journal"
	"dialer-realtime/pkg/callsdk"
	"dialer-realtime/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const recentJournalEntries = 20

type outboundCallView struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	LeadID    string `json:"lead_id"`
	MasterID  string `json:"master_id,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// statusRouter serves /healthz, /metrics and /status for a watch run.
// j may be nil.
func statusRouter(log *slog.Logger, client *callsdk.Client, j *journal.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		s := client.Session()
		if s == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call session not fetched yet"})
			return
		}
		snap := s.Snapshot()
		calls := make([]outboundCallView, 0)
		for _, oc := range s.OutboundCalls() {
			v := outboundCallView{ID: oc.ID, State: string(oc.State), LeadID: oc.LeadID, MasterID: oc.MasterID}
			if oc.StartedAt != nil {
				v.StartedAt = oc.StartedAt.UTC().Format(timeLayout)
			}
			if oc.EndedAt != nil {
				v.EndedAt = oc.EndedAt.UTC().Format(timeLayout)
			}
			calls = append(calls, v)
		}
		sort.Slice(calls, func(i, k int) bool { return calls[i].ID < calls[k].ID })

		session := gin.H{"id": snap.ID, "state": snap.State}
		if snap.StartedAt != nil {
			session["started_at"] = snap.StartedAt.UTC().Format(timeLayout)
		}
		if snap.EndedAt != nil {
			session["ended_at"] = snap.EndedAt.UTC().Format(timeLayout)
		}

		resp := gin.H{
			"user_id":        s.UserID(),
			"channels":       client.Realtime().Channels(),
			"session":        session,
			"outbound_calls": calls,
		}
		if j != nil {
			recent, err := j.Recent(c.Request.Context(), recentJournalEntries)
			if err != nil {
				logger.FromGin(c).Warn("journal read failed", "err", err)
			} else {
				resp["journal"] = recent
			}
		}
		c.JSON(http.StatusOK, resp)
	})
	return r
}
