package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"taskfire/engine"
	"taskfire/internal/handler"
	"taskfire/internal/models"
	"taskfire/types/config"
	"taskfire/web"
)

func main() {

	cfg, err := config.NewEngineConfig("west-canada",
		config.WithSqliteConfig(config.SqliteConfig{Path: "taskfire.db"}),
		config.WithPollInterval(10*time.Second),
		config.WithWorkerCount(5),
		config.WithAPIConfig("reza", "1234", "my-secret-key-1234-5", 8080),
	)
	if err != nil {
		log.Fatalln(err.Error())
	}

	ctx := context.Background()
	eng, err := engine.SetUp(ctx, cfg)
	if err != nil {
		log.Fatalln(err.Error())
	}

	mustRegister(eng, "email", handler.Action{
		Operation:  "send_email",
		Idempotent: false,
		Draft:      draftEmail,
		Execute: func(ctx context.Context, payload json.RawMessage) (handler.Result, error) {
			return sendEmail(payload)
		},
	})
	mustRegister(eng, "invoice", handler.Action{
		Operation:  "send_invoice",
		Idempotent: true,
		Execute: func(ctx context.Context, payload json.RawMessage) (handler.Result, error) {
			log.Println("issuing invoice")
			return handler.Result{Success: true, Detail: "invoice issued"}, nil
		},
	})
	mustRegister(eng, "briefing", handler.Action{
		Operation:   "write_briefing",
		AutoApprove: true,
		Idempotent:  true,
		Execute: func(ctx context.Context, payload json.RawMessage) (handler.Result, error) {
			log.Printf("briefing: %s", payload)
			return handler.Result{Success: true, Detail: "briefing published"}, nil
		},
	})

	if err := eng.Start(ctx); err != nil {
		log.Fatalln(err.Error())
	}

	go func() {
		router := web.NewRouteHandler(eng, cfg.APIUserName, cfg.APIPassword, cfg.SecretKey, cfg.APIAuthEnabled, cfg.APIPort)
		if err := router.Serve(); err != nil {
			log.Printf("failed to start api server: %v", err)
		}
	}()

	payload, _ := json.Marshal(map[string]string{
		"to":      "client@example.com",
		"subject": "Quarterly invoice",
	})
	if _, err := eng.CreateTask(ctx, models.TypeEmail, models.PriorityHigh, payload); err != nil {
		log.Println(err.Error())
	}

	eng.GracefulExit()
}

func mustRegister(eng *engine.Engine, taskType string, a handler.Action) {
	if err := eng.RegisterAction(taskType, a); err != nil {
		log.Fatalln(err.Error())
	}
}

func draftEmail(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var fields map[string]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["body"] = fmt.Sprintf("Hello,\n\nPlease find attached: %s.\n", fields["subject"])
	return json.Marshal(fields)
}

func sendEmail(payload json.RawMessage) (handler.Result, error) {
	var fields map[string]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return handler.Result{}, err
	}
	log.Println("===================================")
	fmt.Printf("Sending email to %s:\n%s\n", fields["to"], fields["body"])
	if strings.HasPrefix(fields["to"], "bounce-") {
		return handler.Result{}, errors.New("mailbox unavailable")
	}
	return handler.Result{Success: true, Detail: "email sent"}, nil
}
