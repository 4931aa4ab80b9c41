package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tierkv/pkg/client"
)

const Prompt = "tierkv> "

func main() {
	serverAddr := flag.String("addr", "localhost:9090", "tierkv TCP server address")
	flag.Parse()

	fmt.Printf("tierkv CLI (Target: %s)\n", *serverAddr)
	fmt.Println("Connecting...")

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: Ensure the server is running (e.g. go run ./cmd/server).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "put", "set":
			handlePut(cli, parts)
		case "get":
			handleGet(cli, parts)
		case "del", "rm":
			handleDel(cli, parts)
		case "scan":
			handleScan(cli, parts)
		case "evict":
			handleEvict(cli, parts)
		case "tier":
			handleTier(cli, parts)
		case "size":
			handleSize(cli)
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func handlePut(cli *client.Client, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: put <key_int> <value_string>")
		return
	}

	key, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: Key must be an integer (e.g., 1001)")
		return
	}

	value := strings.Join(parts[2:], " ")

	start := time.Now()
	err = cli.Put(key, []byte(value))
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("OK (%v)\n", duration)
	}
}

func handleGet(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: get <key_int>")
		return
	}

	key, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: Key must be an integer")
		return
	}

	start := time.Now()
	val, err := cli.Get(key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("\"%s\" (%v)\n", string(val), duration)
	}
}

func handleDel(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: del <key_int>")
		return
	}

	key, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: Key must be an integer")
		return
	}

	start := time.Now()
	err = cli.Delete(key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("Deleted (%v)\n", duration)
	}
}

func handleScan(cli *client.Client, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: scan <start_key> <end_key>")
		return
	}

	startKey, err1 := strconv.ParseInt(parts[1], 10, 64)
	endKey, err2 := strconv.ParseInt(parts[2], 10, 64)

	if err1 != nil || err2 != nil {
		fmt.Println("Error: Keys must be integers")
		return
	}

	fmt.Printf("Scanning range [%d, %d]...\n", startKey, endKey)
	start := time.Now()
	records, err := cli.Scan(startKey, endKey)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Found %d records (%v):\n", len(records), duration)
	count := 0
	for _, rec := range records {
		if count >= 20 {
			fmt.Printf("... and %d more\n", len(records)-20)
			break
		}
		fmt.Printf("  [%d] -> %s\n", rec.Key, string(rec.Value))
		count++
	}
}

func handleEvict(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: evict <key_int>...")
		return
	}

	keys := make([]int64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		key, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			fmt.Printf("Error: Key must be an integer (%q)\n", p)
			return
		}
		keys = append(keys, key)
	}

	start := time.Now()
	if err := cli.Evict(keys...); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Evicted %d keys (%v)\n", len(keys), time.Since(start))
}

func handleTier(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: tier <key_int>")
		return
	}

	key, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: Key must be an integer")
		return
	}

	tier, err := cli.Tier(key)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(tier)
}

func handleSize(cli *client.Client) {
	sizes, err := cli.Size()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("total=%d hot=%d cold=%d\n", sizes.Total, sizes.Hot, sizes.Cold)
}

func printHelp() {
	fmt.Println(`
Commands:
  put <key> <value>      Insert/Update record
  get <key>              Retrieve record
  del <key>              Delete record
  scan <start> <end>     Range query (inclusive)
  evict <key>...         Demote keys to the cold tier
  tier <key>             Show which tier holds a key
  size                   Key counts per tier
  exit                   Exit CLI
	`)
}
