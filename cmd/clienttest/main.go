package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/app/client"
	"github.com/livechess-gg/livechess/internal/domains/dtos"
	"github.com/livechess-gg/livechess/internal/events"
	"github.com/livechess-gg/livechess/pkg/logging"
)

// Manual test harness: mounts one player's client against a running game
// server and turns stdin lines into intents.
//
//	move e4 | pause | resume | accept | decline | resign | draw | poll | state
func main() {
	addr := flag.String("addr", "localhost:8080", "game server address")
	sessionId := flag.String("session", "", "session id to join")
	playerId := flag.String("player", "", "player id")
	token := flag.String("token", "", "bearer token (optional in dev mode)")
	flag.Parse()

	if *sessionId == "" || *playerId == "" {
		fmt.Fprintln(os.Stderr, "usage: clienttest -session <id> -player <id> [-addr host:port] [-token t]")
		os.Exit(1)
	}

	c := client.New(*addr, *sessionId, *playerId, *token)
	c.OnEvent = func(ev events.Event) {
		if ev.Snapshot != nil {
			fmt.Printf("<< %s by %s (status=%s ply=%d)\n",
				ev.Type, ev.Actor, ev.Snapshot.Status, ev.Snapshot.Ply)
			return
		}
		fmt.Printf("<< %s by %s\n", ev.Type, ev.Actor)
	}
	c.OnResumeAck = func(ack dtos.ResumeAck) {
		fmt.Printf("<< resume request delivered to %s (%s), expires %s\n",
			ack.OpponentId, ack.DeliveryCertainty, ack.ExpiresAt.Format("15:04:05"))
	}
	c.OnError = func(code, msg string, rej *dtos.ResumeRejection) {
		fmt.Printf("<< error %s: %s\n", code, msg)
		if rej != nil {
			fmt.Printf("   pending request by %s, retry in %dms\n",
				rej.RequestedBy, rej.RetryAfterMs)
		}
	}

	ctx := context.Background()
	if err := c.Mount(ctx, "clienttest"); err != nil {
		logging.Fatal("failed to mount session", zap.Error(err))
	}
	defer c.Unmount()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "move":
			if len(fields) < 2 {
				fmt.Println("usage: move <san-or-uci>")
				continue
			}
			err = c.SubmitMove(fields[1])
		case "pause":
			err = c.Pause("manual")
		case "resume":
			err = c.RequestResume()
		case "accept":
			err = c.RespondResume(true)
		case "decline":
			err = c.RespondResume(false)
		case "resign":
			err = c.Resign()
		case "draw":
			err = c.OfferDraw()
		case "poll":
			err = c.Poll(ctx)
		case "state":
			snap, ok := c.View().Snapshot()
			if !ok {
				fmt.Println("no snapshot yet")
				continue
			}
			white, black := c.View().Clocks()
			fmt.Printf("status=%s turn=%s ply=%d white=%dms black=%dms fen=%s\n",
				snap.Status, snap.Turn, snap.Ply, white, black, snap.Fen)
		case "quit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
			continue
		}
		if err != nil {
			fmt.Println("!! ", err)
		}
	}
}
