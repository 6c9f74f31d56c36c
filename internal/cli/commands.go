// Package cli implements the operator console for relayhost.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/host"
	"github.com/energizer-project/relayhost/internal/stats"
	"github.com/energizer-project/relayhost/internal/util"
)

const commandTimeout = 5 * time.Second

var errUsage = errors.New("usage")

// CLI reads operator commands line by line and applies them to the host.
type CLI struct {
	host  *host.Host
	store *stats.Store
	quit  func()
	in    io.Reader
	out   io.Writer
}

// NewCLI creates a console bound to in and out. quit is called by the
// quit command.
func NewCLI(h *host.Host, store *stats.Store, quit func(), in io.Reader, out io.Writer) *CLI {
	return &CLI{
		host:  h,
		store: store,
		quit:  quit,
		in:    in,
		out:   out,
	}
}

// Start runs the read loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nrelayhost console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "relayhost> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				log.Debug().Msg("CLI: input closed")
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "games", "g":
		c.printGames()
	case "players", "p":
		return c.printPlayers(args)
	case "create":
		return c.cmdCreate(args)
	case "start":
		return c.cmdStart(ctx, args)
	case "end":
		return c.cmdEnd(ctx, args)
	case "chat", "say":
		return c.cmdChat(ctx, args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "ban":
		return c.cmdBan(ctx, args)
	case "unban":
		return c.cmdUnban(ctx, args)
	case "bans":
		return c.printBans()
	case "history":
		return c.printHistory(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down relayhost...")
		if c.quit != nil {
			c.quit()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
  status                       Show host status
  games                        List hosted games
  players <game>               List players of a game
  create <map> <name...>       Queue a new public lobby
  start <game> [force]         Start the lobby countdown
  end <game> [reason...]       End a game
  chat <game|all> <message...> Send a chat message
  kick <game> <pid> [reason]   Kick a player
  ban <name> [reason...]       Ban a player name
  unban <name>                 Remove a ban
  bans                         List bans
  history [name]               Show recent games or a player's games
  quit                         Shut down relayhost
`)
	fmt.Fprintln(c.out)
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	st := c.host.Status()
	fmt.Fprintf(c.out, "\n  Uptime:        %s\n", util.FormatDuration(st.Uptime))
	fmt.Fprintf(c.out, "  Games:         %d\n", len(st.Games))
	fmt.Fprintf(c.out, "  Queued:        %d\n", st.Queued)
	fmt.Fprintf(c.out, "  Pending saves: %d\n", st.Orphans)
	if st.Reconnect.Enabled {
		fmt.Fprintf(c.out, "  Reconnect:     port %d, %d pending, %d accepted, %d rejected\n",
			st.Reconnect.Port, st.Reconnect.Pending, st.Reconnect.Accepted, st.Reconnect.Rejected)
	} else {
		fmt.Fprintln(c.out, "  Reconnect:     disabled")
	}
	if load, err := util.GetLoad(); err == nil {
		fmt.Fprintf(c.out, "  CPU:           %.1f%%\n", load.CPUPercent)
		fmt.Fprintf(c.out, "  Memory:        %s (%.1f%%)\n",
			util.FormatBytes(load.MemoryUsedMB*1024*1024), load.MemoryPercent)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printGames() {
	games := c.host.Status().Games
	if len(games) == 0 {
		fmt.Fprintln(c.out, "No games hosted")
		return
	}
	tw := c.table([]string{"ID", "Name", "Map", "State", "Players", "Latency", "Lag", "Age"})
	for _, g := range games {
		lag := "-"
		if g.Lagging {
			lag = "yes"
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(g.ID), 10),
			g.Name,
			g.Map,
			g.State,
			strconv.Itoa(len(g.Players)),
			strconv.Itoa(g.Latency) + "ms",
			lag,
			util.FormatSince(g.CreatedAt),
		})
	}
	tw.Render()
}

func (c *CLI) printPlayers(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: players <game>", errUsage)
	}
	id, err := parseGameID(args[0])
	if err != nil {
		return err
	}
	g, ok := c.host.Game(id)
	if !ok {
		return host.ErrNoSuchGame
	}
	tw := c.table([]string{"PID", "Name", "Slot", "Ping", "IP", "Flags"})
	for _, p := range g.Players {
		tw.Append([]string{
			strconv.Itoa(int(p.PID)),
			p.Name,
			strconv.Itoa(p.Slot),
			util.FormatMillis(p.Ping),
			p.IP,
			playerFlags(p),
		})
	}
	tw.Render()
	return nil
}

func playerFlags(p game.PlayerInfo) string {
	var flags []string
	if p.Reserved {
		flags = append(flags, "reserved")
	}
	if p.GProxy {
		flags = append(flags, "gproxy")
	}
	if p.Muted {
		flags = append(flags, "muted")
	}
	if p.Lagging {
		flags = append(flags, "lagging")
	}
	if p.Disconnected {
		flags = append(flags, "disconnected")
	}
	return strings.Join(flags, ",")
}

func (c *CLI) cmdCreate(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: create <map> <name>", errUsage)
	}
	req := host.GameRequest{
		Map:     args[0],
		Name:    strings.Join(args[1:], " "),
		Public:  true,
		Creator: "console",
	}
	if err := c.host.QueueGameCreate(req); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Game '%s' queued\n", req.Name)
	return nil
}

func (c *CLI) withGame(ctx context.Context, arg string, fn func(g *game.Session) error) error {
	id, err := parseGameID(arg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return c.host.Do(ctx, func(h *host.Host) error {
		g, err := h.Session(id)
		if err != nil {
			return err
		}
		return fn(g)
	})
}

func (c *CLI) cmdStart(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: start <game> [force]", errUsage)
	}
	force := len(args) > 1 && args[1] == "force"
	err := c.withGame(ctx, args[0], func(g *game.Session) error {
		return g.StartCountdown(force, time.Now())
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Countdown started")
	return nil
}

func (c *CLI) cmdEnd(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: end <game> [reason]", errUsage)
	}
	reason := "ended by operator"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	err := c.withGame(ctx, args[0], func(g *game.Session) error {
		g.Close(reason)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Game ending")
	return nil
}

func (c *CLI) cmdChat(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: chat <game|all> <message>", errUsage)
	}
	msg := strings.Join(args[1:], " ")
	if args[0] == "all" {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return c.host.Do(ctx, func(h *host.Host) error {
			h.SendAllChat(msg)
			return nil
		})
	}
	return c.withGame(ctx, args[0], func(g *game.Session) error {
		g.SendAllChat(msg)
		return nil
	})
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: kick <game> <pid> [reason]", errUsage)
	}
	pid, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[1])
	}
	reason := "kicked by operator"
	if len(args) > 2 {
		reason = strings.Join(args[2:], " ")
	}
	err = c.withGame(ctx, args[0], func(g *game.Session) error {
		if !g.KickPlayer(uint8(pid), reason) {
			return fmt.Errorf("no player with pid %d", pid)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Player %d kicked\n", pid)
	return nil
}

func (c *CLI) cmdBan(ctx context.Context, args []string) error {
	if c.store == nil {
		return errors.New("storage is not available")
	}
	if len(args) < 1 {
		return fmt.Errorf("%w: ban <name> [reason]", errUsage)
	}
	reason := strings.Join(args[1:], " ")
	if err := c.store.AddBan(ctx, args[0], reason, "console"); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Banned %s\n", args[0])
	return nil
}

func (c *CLI) cmdUnban(ctx context.Context, args []string) error {
	if c.store == nil {
		return errors.New("storage is not available")
	}
	if len(args) < 1 {
		return fmt.Errorf("%w: unban <name>", errUsage)
	}
	removed, err := c.store.RemoveBan(ctx, args[0])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(c.out, "%s was not banned\n", args[0])
		return nil
	}
	fmt.Fprintf(c.out, "Unbanned %s\n", args[0])
	return nil
}

func (c *CLI) printBans() error {
	if c.store == nil {
		return errors.New("storage is not available")
	}
	bans := c.store.Bans()
	if len(bans) == 0 {
		fmt.Fprintln(c.out, "No bans")
		return nil
	}
	tw := c.table([]string{"Name", "Reason", "By", "Since"})
	for _, b := range bans {
		tw.Append([]string{b.Name, b.Reason, b.BannedBy, util.FormatSince(b.CreatedAt)})
	}
	tw.Render()
	return nil
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	if c.store == nil {
		return errors.New("storage is not available")
	}
	if len(args) > 0 {
		entries, err := c.store.PlayerHistory(ctx, args[0], 20)
		if err != nil {
			return err
		}
		tw := c.table([]string{"Game", "Name", "Joined", "Reason"})
		for _, e := range entries {
			tw.Append([]string{e.GameID, e.Name, util.FormatSince(e.JoinedAt), e.LeftReason})
		}
		tw.Render()
		return nil
	}

	games, err := c.store.RecentGames(ctx, 20)
	if err != nil {
		return err
	}
	tw := c.table([]string{"ID", "Name", "Map", "Creator", "Duration", "Ended"})
	for _, g := range games {
		tw.Append([]string{
			g.ID,
			g.Name,
			g.Map,
			g.Creator,
			util.FormatDuration(g.Duration),
			util.FormatSince(g.EndedAt),
		})
	}
	tw.Render()
	return nil
}

func parseGameID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid game id: %s", s)
	}
	return uint32(id), nil
}
