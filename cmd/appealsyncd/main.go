package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/citydesk/appealsync/internal/config"
	"github.com/citydesk/appealsync/internal/daemon"
	"github.com/citydesk/appealsync/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "appeals server base URL (overrides config)")
	realtimeFlag := flag.String("realtime", "", "realtime websocket URL (overrides config)")
	userFlag := flag.Int64("user", 0, "viewer user id")
	departmentsFlag := flag.String("departments", "", "comma-separated department ids to watch")
	flag.Parse()

	departments, err := parseDepartments(*departmentsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = &config.Config{}
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *realtimeFlag != "" {
		cfg.RealtimeURL = *realtimeFlag
	}
	if cfg.ServerURL == "" || cfg.RealtimeURL == "" {
		fmt.Fprintln(os.Stderr, "error: server_url and realtime_url must be set via config or flags")
		os.Exit(1)
	}
	if *userFlag == 0 {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ProfileName:   profileName,
			Config:        cfg,
			UserID:        *userFlag,
			DepartmentIDs: departments,
		}),
	)

	app.Run()
}

func parseDepartments(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid department id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
