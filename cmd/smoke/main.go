package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"famlocator.app/internal/chat"
	"famlocator.app/internal/client"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Smoke test against a running API: gRPC health, login, directory, chat
// round trip through the live feed. Needs an active account.
func main() {
	baseURL := env("FAM_API_URL", "http://localhost:8080")
	grpcAddr := env("FAM_GRPC_ADDR", "localhost:9090")
	email := os.Getenv("FAM_SMOKE_EMAIL")
	password := os.Getenv("FAM_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("FAM_SMOKE_EMAIL and FAM_SMOKE_PASSWORD must name an active account")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc at %s: %v", grpcAddr, err)
	}
	defer conn.Close()
	health, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if health.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health status %v", health.GetStatus())
	}

	c := client.New(baseURL)
	session, err := c.Login(ctx, email, password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	if session.FirstLogin {
		log.Fatal("smoke account is the provisional administrator; finish setup first")
	}

	list, err := c.Members(ctx)
	if err != nil {
		log.Fatalf("members: %v", err)
	}
	found := false
	for _, m := range list {
		if m.ID == session.UserID {
			found = m.Location != nil
		}
	}
	if !found {
		log.Fatalf("own entry missing or without location in %d members", len(list))
	}

	text := fmt.Sprintf("smoke %d", time.Now().UnixNano())
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	ready := make(chan struct{})
	seen := make(chan struct{})
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- c.FollowChat(feedCtx, chat.GroupChatID, func(u client.Update) {
			switch u.Kind {
			case client.UpdateSnapshot:
				close(ready)
			case client.UpdateMessage:
				if u.Messages[0].Text == text {
					close(seen)
				}
			}
		})
	}()

	select {
	case <-ready:
	case err := <-feedErr:
		log.Fatalf("follow chat: %v", err)
	case <-ctx.Done():
		log.Fatal("no snapshot from the chat feed")
	}
	if _, err := c.SendMessage(ctx, chat.GroupChatID, text); err != nil {
		log.Fatalf("send message: %v", err)
	}
	select {
	case <-seen:
	case err := <-feedErr:
		if err == nil {
			err = errors.New("feed ended")
		}
		log.Fatalf("follow chat: %v", err)
	case <-ctx.Done():
		log.Fatal("message not delivered through the live feed")
	}

	fmt.Printf("✅ famlocator smoke test passed: user=%s members=%d\n", session.UserID, len(list))
}
