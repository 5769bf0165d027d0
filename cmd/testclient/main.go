// Command testclient sends one transcript to the Interpret RPC and prints the
// outcome.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	cli "github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "voice-commerce-service/internal/api/grpc"
)

func main() {
	server := cli.StringP("server", "s", "localhost:50051", "gRPC server address")
	userID := cli.StringP("user", "u", "", "User id to start a new session for")
	sessionID := cli.String("session", "", "Existing voice session id")
	text := cli.StringP("text", "t", "show me products", "Transcript text")
	interim := cli.Bool("interim", false, "Send as an interim transcript")
	cli.Parse()

	if *userID == "" && *sessionID == "" {
		log.Fatal("one of --user or --session is required")
	}

	conn, err := grpc.NewClient(*server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	client := grpcapi.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"sessionId": *sessionID,
		"userId":    *userID,
		"text":      *text,
		"isFinal":   !*interim,
	})
	if err != nil {
		log.Fatalf("failed to build request: %v", err)
	}

	log.Printf("Sending transcript: %q", *text)
	resp, err := client.Interpret(ctx, req)
	if err != nil {
		log.Fatalf("interpret failed: %v", err)
	}

	out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
	if err != nil {
		log.Fatalf("failed to format response: %v", err)
	}
	fmt.Println(string(out))
}
