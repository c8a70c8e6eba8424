// atlas-agent is the device-side command line for the Atlas task backend.
// It registers a device, lists and progresses its tasks, and watches the
// live event stream.
//
// Usage:
//
//	atlas-agent register --device <id> --wallet <0x...>
//	atlas-agent tasks [--status pending]
//	atlas-agent start <task-id>
//	atlas-agent complete <task-id>
//	atlas-agent watch
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/ssd-technologies/atlas/internal/client"
	"github.com/ssd-technologies/atlas/internal/storage"
)

const (
	defaultServer = "http://localhost:3000"
	pingInterval  = 30 * time.Second
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "register":
		cmdRegister(os.Args[2:])
	case "tasks":
		cmdTasks(os.Args[2:])
	case "start":
		cmdTaskAction(os.Args[2:], "start")
	case "complete":
		cmdTaskAction(os.Args[2:], "complete")
	case "watch":
		cmdWatch(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: atlas-agent <command> [flags]

Commands:
  register  Register this device and save its token
  tasks     List tasks assigned to this device
  start     Start a pending task
  complete  Mark a task completed
  watch     Stream task events for this device

The server URL comes from --server or ATLAS_SERVER.
`)
}

// commonFlags registers the flags every subcommand accepts.
func commonFlags(name string) (*pflag.FlagSet, *string, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	server := fs.String("server", "", "Atlas server URL (default $ATLAS_SERVER or "+defaultServer+")")
	identity := fs.String("identity", "", "identity file (default ~/.atlas/agent.json)")
	return fs, server, identity
}

func resolveServer(flagValue string, id *client.Identity) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("ATLAS_SERVER"); v != "" {
		return v
	}
	if id != nil && id.Server != "" {
		return id.Server
	}
	return defaultServer
}

func resolveIdentityPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	path, err := client.DefaultIdentityPath()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	return path
}

// loadClient returns a client authenticated with the saved identity. An
// expired access token is renewed with the saved refresh token and written
// back to the identity file.
func loadClient(serverFlag, identityFlag string) (*client.Client, client.Identity) {
	path := resolveIdentityPath(identityFlag)
	id, err := client.LoadIdentity(path)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	c := client.New(resolveServer(serverFlag, &id), id.Token)
	c.WithRefresh(id.RefreshToken, func(access string) {
		id.Token = access
		if err := client.SaveIdentity(path, id); err != nil {
			log.Printf("Warning: could not save renewed token: %v", err)
		}
	})
	return c, id
}

func cmdRegister(args []string) {
	fs, server, identity := commonFlags("register")
	device := fs.String("device", "", "device identifier (required)")
	wallet := fs.String("wallet", "", "wallet address, 0x followed by 40 hex characters (required)")
	fs.Parse(args)

	if *device == "" || *wallet == "" {
		fmt.Fprintln(os.Stderr, "Error: --device and --wallet are required")
		fs.Usage()
		os.Exit(1)
	}

	base := resolveServer(*server, nil)
	c := client.New(base, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reg, err := c.Register(ctx, *device, *wallet)
	if err != nil {
		log.Fatalf("Register: %v", err)
	}

	path := resolveIdentityPath(*identity)
	err = client.SaveIdentity(path, client.Identity{
		Server:        base,
		AgentID:       reg.ID,
		DeviceID:      reg.DeviceID,
		WalletAddress: reg.WalletAddress,
		Token:         reg.Token,
		RefreshToken:  reg.RefreshToken,
	})
	if err != nil {
		log.Fatalf("Save identity: %v", err)
	}
	fmt.Printf("Registered %s (agent %s)\n", reg.DeviceID, reg.ID)
	fmt.Printf("  Wallet:   %s\n", reg.WalletAddress)
	fmt.Printf("  Identity: %s\n", path)
}

func cmdTasks(args []string) {
	fs, server, identity := commonFlags("tasks")
	status := fs.String("status", "", "filter by status (pending, in_progress, completed, cancelled)")
	fs.Parse(args)

	c, _ := loadClient(*server, *identity)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	list, err := c.Tasks(ctx, storage.TaskStatus(*status))
	if err != nil {
		log.Fatalf("List tasks: %v", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tDUE\tTITLE")
	for _, t := range list {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, due, t.Title)
	}
	tw.Flush()
}

func cmdTaskAction(args []string, action string) {
	fs, server, identity := commonFlags(action)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: atlas-agent %s <task-id>\n", action)
		os.Exit(1)
	}

	c, _ := loadClient(*server, *identity)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		t   *storage.Task
		err error
	)
	if action == "start" {
		t, err = c.Start(ctx, fs.Arg(0))
	} else {
		t, err = c.Complete(ctx, fs.Arg(0))
	}
	if err != nil {
		log.Fatalf("%s task: %v", action, err)
	}
	fmt.Printf("Task %s is now %s\n", t.ID, t.Status)
}

func cmdWatch(args []string) {
	fs, server, identity := commonFlags("watch")
	fs.Parse(args)

	c, id := loadClient(*server, *identity)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching events for %s (Ctrl-C to stop)\n", id.WalletAddress)
	err := c.Watch(ctx, id.WalletAddress, pingInterval, func(e client.Event) {
		fmt.Printf("%s  %-14s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Event, e.Data)
	})
	if err != nil {
		log.Fatalf("Watch: %v", err)
	}
	fmt.Println("\nStopped.")
}
