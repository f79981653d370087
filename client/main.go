// Command client is a line-oriented test client for the lobby websocket.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aryansinha9/irl-among-us/network"
)

const usage = `commands:
  create NAME SKIN          join CODE NAME SKIN       rejoin CODE PLAYER_ID
  info CODE                 kick PLAYER_ID            start
  reset                     intro                     sabotage | fix
  report                    emergency                 task INDEX
  kill [PLAYER_ID]          vote PLAYER_ID|skip       skip
  end                       resume                    quit`

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

// parse maps one input line to a request.
func parse(fields []string) (uint16, interface{}, error) {
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	switch fields[0] {
	case "create":
		return network.MsgTypeCreateLobby, network.CreateLobbyRequest{Name: arg(1), Skin: arg(2)}, nil
	case "join":
		return network.MsgTypeJoinLobby, network.JoinLobbyRequest{Code: arg(1), Name: arg(2), Skin: arg(3)}, nil
	case "rejoin":
		return network.MsgTypeRejoin, network.RejoinRequest{Code: arg(1), PlayerID: arg(2)}, nil
	case "info":
		return network.MsgTypePublicInfo, network.PublicInfoRequest{Code: arg(1)}, nil
	case "kick":
		return network.MsgTypeKickPlayer, network.PlayerRequest{PlayerID: arg(1)}, nil
	case "start":
		return network.MsgTypeStartGame, nil, nil
	case "reset":
		return network.MsgTypeResetLobby, nil, nil
	case "intro":
		return network.MsgTypeTriggerIntro, nil, nil
	case "sabotage":
		return network.MsgTypeTriggerSabotage, nil, nil
	case "fix":
		return network.MsgTypeResolveSabotage, nil, nil
	case "report":
		return network.MsgTypeReportBody, nil, nil
	case "emergency":
		return network.MsgTypeCallEmergency, nil, nil
	case "task":
		index, err := strconv.Atoi(arg(1))
		if err != nil {
			return 0, nil, fmt.Errorf("task index: %w", err)
		}
		return network.MsgTypeCompleteTask, network.TaskRequest{Index: index}, nil
	case "kill":
		return network.MsgTypeEliminate, network.PlayerRequest{PlayerID: arg(1)}, nil
	case "vote":
		return network.MsgTypeCastVote, network.VoteRequest{TargetID: arg(1)}, nil
	case "skip":
		return network.MsgTypeSkipDiscussion, nil, nil
	case "end":
		return network.MsgTypeEndMeeting, nil, nil
	case "resume":
		return network.MsgTypeResumeGame, nil, nil
	}
	return 0, nil, fmt.Errorf("unknown command %q", fields[0])
}

func printPacket(packet *network.Packet) {
	if packet.MsgID != network.MsgTypeLobbySnapshot {
		log.Printf("<- RECV (ID: %d): %s", packet.MsgID, string(packet.Data))
		return
	}
	var snap network.LobbySnapshot
	if err := json.Unmarshal(packet.Data, &snap); err != nil || snap.Lobby == nil {
		log.Printf("<- bad snapshot: %v", err)
		return
	}
	l := snap.Lobby
	log.Printf("<- LOBBY %s v%d status=%s players=%d", l.ID, snap.Version, l.Status, len(l.Players))
	for id, p := range l.Players {
		log.Printf("     %s %-12s %-8s %-9s %s", id, p.Name, p.CharacterImage, p.Role, p.Status)
	}
	if l.Meeting != nil {
		log.Printf("     meeting: caller=%s reason=%s", l.Meeting.CallerID, l.Meeting.Reason)
	}
	if l.Winner != nil {
		log.Printf("     winner: %s", *l.Winner)
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			printPacket(packet)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Println(usage)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok || text == "quit" {
				return
			}
			fields := strings.Fields(text)
			if len(fields) == 0 {
				continue
			}
			msgID, req, err := parse(fields)
			if err != nil {
				log.Println(err)
				continue
			}
			if err := send(c, msgID, req); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT: %s", fields[0])
		}
	}
}
