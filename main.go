package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/slack-go/slack"
)

func main() {
	cbilPath := flag.String("cbil", "", "path to a CBIL narrative text file to align with the analysis")
	subject := flag.String("subject", "", "lesson subject for context")
	grade := flag.String("grade", "", "grade level for context")
	duration := flag.Int("duration", 0, "lesson duration in minutes (defaults to 45 for density)")
	serve := flag.Bool("serve", false, "keep running for the digest scheduler after evaluating")
	flag.Parse()

	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	engine, err := NewEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	var api *slack.Client
	if cfg.SlackConfigured() {
		api = slack.New(cfg.SlackBotToken)
		StartDigestScheduler(cfg, db, api)
	}

	cbilNarrative := ""
	if *cbilPath != "" {
		data, err := os.ReadFile(*cbilPath)
		if err != nil {
			log.Fatalf("Failed to read CBIL narrative: %v", err)
		}
		cbilNarrative = string(data)
	}

	var lesson *LessonContext
	if *subject != "" || *grade != "" || *duration > 0 {
		lesson = &LessonContext{Subject: *subject, GradeLevel: *grade, DurationMinutes: *duration}
	}

	if flag.NArg() == 0 && !*serve {
		log.Fatal("Usage: lessonlens [-cbil narrative.txt] [-subject s] [-grade g] [-duration min] transcript.json [...]")
	}

	ctx := context.Background()
	for _, path := range flag.Args() {
		utterances, err := LoadTranscript(path)
		if err != nil {
			log.Fatalf("Failed to load transcript %s: %v", path, err)
		}
		log.Printf("Evaluating %s (%d utterances)...", path, len(utterances))

		result, err := engine.Evaluate(ctx, utterances, lesson, cbilNarrative)
		if err != nil {
			log.Fatalf("Evaluation of %s failed: %v", path, err)
		}

		if err := InsertEvaluation(db, result); err != nil {
			log.Printf("Failed to store evaluation run=%s: %v", result.RunID, err)
		}
		if api != nil {
			PostEvaluationSummary(api, cfg.SlackChannelID, result, cfg.TeamName)
		}
	}

	if *serve {
		log.Println("Evaluation service running (digest scheduler active)...")
		select {}
	}
}
