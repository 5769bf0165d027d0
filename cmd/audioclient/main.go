// Command audioclient streams a WAV recording to the StreamAudio RPC in
// real time and prints the session summary.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-audio/wav"
	cli "github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"

	grpcapi "voice-commerce-service/internal/api/grpc"
)

const chunkInterval = 100 * time.Millisecond

func main() {
	audioFile := cli.StringP("audio", "a", "testdata/sample-16khz.wav", "Path to a PCM WAV file")
	serverAddr := cli.StringP("server", "s", "localhost:50051", "gRPC server address")
	userID := cli.StringP("user", "u", "", "User id to start a new session for")
	sessionID := cli.String("session", "", "Existing voice session id")
	expectRate := cli.Int("rate", 16000, "Sample rate the recognizer expects")
	realtime := cli.Bool("realtime", true, "Pace chunks at playback speed")
	cli.Parse()

	if *userID == "" && *sessionID == "" {
		log.Fatal("one of --user or --session is required")
	}

	pcm, sampleRate, err := readPCM16(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio: %v", err)
	}
	if sampleRate != *expectRate {
		log.Printf("Warning: sample rate is %d Hz, recognizer expects %d Hz", sampleRate, *expectRate)
	}
	log.Printf("Loaded %s: %d Hz, %v of audio", *audioFile, sampleRate,
		time.Duration(len(pcm)/2)*time.Second/time.Duration(sampleRate))

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	md := metadata.MD{}
	if *sessionID != "" {
		md.Set(grpcapi.SessionIDKey, *sessionID)
	} else {
		md.Set(grpcapi.UserIDKey, *userID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = metadata.NewOutgoingContext(ctx, md)

	stream, err := grpcapi.NewClient(conn).StreamAudio(ctx)
	if err != nil {
		log.Fatalf("Failed to open stream: %v", err)
	}

	// 16-bit mono: two bytes per sample.
	chunkSize := sampleRate * 2 * int(chunkInterval/time.Millisecond) / 1000
	var chunks int
	start := time.Now()
	for off := 0; off < len(pcm); off += chunkSize {
		end := min(off+chunkSize, len(pcm))
		if err := stream.Send(pcm[off:end]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		chunks++
		if chunks%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunks, end)
		}
		if *realtime {
			time.Sleep(chunkInterval)
		}
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunks, len(pcm), time.Since(start))

	summary, err := stream.CloseAndRecv()
	if err != nil {
		log.Fatalf("Stream failed: %v", err)
	}
	out, err := protojson.MarshalOptions{Multiline: true}.Marshal(summary)
	if err != nil {
		log.Fatalf("Failed to format summary: %v", err)
	}
	fmt.Println(string(out))
}

// readPCM16 decodes a PCM WAV file to little-endian 16-bit mono samples.
// Multi-channel audio keeps the first channel.
func readPCM16(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid PCM WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("%s: no audio data", path)
	}

	if dec.SampleRate == 0 {
		return nil, 0, fmt.Errorf("%s: missing sample rate", path)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	shift := int(dec.BitDepth) - 16

	out := make([]byte, 0, len(buf.Data)/channels*2)
	for i := 0; i < len(buf.Data); i += channels {
		s := buf.Data[i]
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			// 8-bit WAV is unsigned.
			s = (s - 128) << -shift
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(s)))
	}
	return out, int(dec.SampleRate), nil
}
