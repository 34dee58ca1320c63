package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/chatline/internal/db"
	"github.com/zulandar/chatline/internal/devserver"
)

type mysqlFlags struct {
	host     string
	port     int
	user     string
	database string
}

func newDevServerCmd() *cobra.Command {
	var (
		configPath string
		port       int
		mysql      mysqlFlags
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local support backend",
		Long:  "Starts a local backend speaking the chat protocol, with a canned assistant and HTTP endpoints for playing the operator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServer(cmd, configPath, port, mysql)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chatline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&mysql.host, "mysql-host", "", "store chats in MySQL on this host instead of the configured database")
	cmd.Flags().IntVar(&mysql.port, "mysql-port", 3306, "MySQL port")
	cmd.Flags().StringVar(&mysql.user, "mysql-user", "root", "MySQL user")
	cmd.Flags().StringVar(&mysql.database, "mysql-db", "chatline", "MySQL database")
	return cmd
}

func runDevServer(cmd *cobra.Command, configPath string, port int, mysql mysqlFlags) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	dc := cfg.DevServer
	if port > 0 {
		dc.Port = port
	}
	if mysql.host != "" {
		dc.Database.Driver = "mysql"
		dc.Database.DSN = db.MySQLDSN(mysql.user, mysql.host, mysql.port, mysql.database)
	}

	gormDB, err := db.Open(dc.Database)
	if err != nil {
		return err
	}
	srv, err := devserver.New(devserver.Opts{
		DB:        gormDB,
		BotToken:  dc.BotToken,
		MediaDir:  dc.MediaDir,
		Responder: devserver.CannedResponder(dc.AIReply),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return devserver.Start(ctx, devserver.StartOpts{
		Server: srv,
		Port:   dc.Port,
		Out:    cmd.OutOrStdout(),
	})
}
