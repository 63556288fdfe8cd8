package main

import (
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
)

// StartDigestScheduler starts a cron-based scheduler that periodically
// posts a roll-up of stored evaluations to the report channel.
// The schedule is a standard 5-field cron expression (minute hour day-of-month month day-of-week).
// Examples: "0 8 * * 1" (Mondays 8am), "0 17 * * 5" (Fridays 5pm).
func StartDigestScheduler(cfg Config, db *sql.DB, api *slack.Client) {
	schedule := strings.TrimSpace(cfg.DigestSchedule)
	if schedule == "" {
		log.Println("Digest disabled (digest_schedule not set)")
		return
	}
	if !cfg.SlackConfigured() {
		log.Println("Digest disabled: Slack is not configured")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid digest_schedule '%s': %v, digest disabled", schedule, err)
		return
	}

	log.Printf("Digest scheduled (cron: %s) to channel %s", schedule, cfg.SlackChannelID)

	go func() {
		for {
			now := time.Now().In(cfg.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next digest at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			rows, err := RecentEvaluations(db, time.Now().In(cfg.Location).AddDate(0, 0, -7))
			if err != nil {
				log.Printf("Digest query error: %v", err)
				continue
			}
			msg := FormatDigest(rows, cfg.TeamName)
			_, _, postErr := api.PostMessage(cfg.SlackChannelID, slack.MsgOptionText(msg, false))
			if postErr != nil {
				log.Printf("Digest post error: %v", postErr)
			} else {
				log.Printf("Digest posted: %d evaluations", len(rows))
			}
		}
	}()
}
