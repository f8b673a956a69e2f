package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/relay-bridge/cmd"
)

func main() {
	app := &cli.App{
		Name:   "relay-bridge",
		Usage:  "bridges HTTP clients and relay controllers over a websocket channel",
		Action: cmd.ServeCommand,
		Flags:  serveFlags,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the bridge server",
				Action: cmd.ServeCommand,
				Flags:  serveFlags,
			},
			{
				Name:   "agent",
				Usage:  "run a device agent against a bridge; AGENT_* variables configure the rest",
				Action: cmd.AgentCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "device-id",
						EnvVars: []string{"AGENT_DEVICE_ID"},
					},
					&cli.StringFlag{
						Name:    "server-url",
						EnvVars: []string{"AGENT_SERVER_URL"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var serveFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		EnvVars: []string{"LISTEN_ADDR"},
		Value:   "0.0.0.0:8000",
	},
	&cli.StringFlag{
		Name:    "log-level",
		EnvVars: []string{"LOG_LEVEL"},
		Value:   "INFO",
	},
	&cli.DurationFlag{
		Name:    "bridge-timeout",
		EnvVars: []string{"BRIDGE_TIMEOUT"},
		Value:   time.Second,
	},
	&cli.IntFlag{
		Name:    "relay-count",
		EnvVars: []string{"RELAY_COUNT"},
		Value:   8,
	},
	&cli.IntFlag{
		Name:    "history-size",
		EnvVars: []string{"HISTORY_SIZE"},
		Value:   10,
	},
	&cli.StringFlag{
		Name:    "database-url",
		EnvVars: []string{"DATABASE_URL"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "migrations-folder",
		EnvVars: []string{"MIGRATIONS_FOLDER"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "cleanup-schedule",
		EnvVars: []string{"CLEANUP_SCHEDULE"},
		Value:   "0 3 * * *",
	},
	&cli.DurationFlag{
		Name:    "telemetry-retention",
		EnvVars: []string{"TELEMETRY_RETENTION"},
		Value:   7 * 24 * time.Hour,
	},
	&cli.StringFlag{
		Name:    "redis-addr",
		EnvVars: []string{"REDIS_ADDR"},
		Value:   "",
	},
	&cli.DurationFlag{
		Name:    "redis-ttl",
		EnvVars: []string{"REDIS_TTL"},
		Value:   24 * time.Hour,
	},
	&cli.StringFlag{
		Name:    "mqtt-host",
		EnvVars: []string{"MQTT_HOST"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "mqtt-user",
		EnvVars: []string{"MQTT_USER"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "mqtt-pass",
		EnvVars: []string{"MQTT_PASS"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "mqtt-topic-prefix",
		EnvVars: []string{"MQTT_TOPIC_PREFIX"},
		Value:   "homeassistant",
	},
	&cli.StringFlag{
		Name:    "influx-url",
		EnvVars: []string{"INFLUX_URL"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "influx-token",
		EnvVars: []string{"INFLUX_TOKEN"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "influx-org",
		EnvVars: []string{"INFLUX_ORG"},
		Value:   "",
	},
	&cli.StringFlag{
		Name:    "influx-bucket",
		EnvVars: []string{"INFLUX_BUCKET"},
		Value:   "",
	},
	&cli.DurationFlag{
		Name:    "ws-ping-interval",
		EnvVars: []string{"WS_PING_INTERVAL"},
		Value:   30 * time.Second,
	},
	&cli.DurationFlag{
		Name:    "ws-pong-wait",
		EnvVars: []string{"WS_PONG_WAIT"},
		Value:   10 * time.Second,
	},
	&cli.Int64Flag{
		Name:    "ws-max-message-size",
		EnvVars: []string{"WS_MAX_MESSAGE_SIZE"},
		Value:   64 * 1024,
	},
}
