package logger

import (
	"os"

	"github.com/sirupsen/logrus"

	"marketfetch/internal/config"
)

// Init configures the process-wide logrus logger.
func Init(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("invalid log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	logrus.SetOutput(os.Stdout)
}

// WithExchange returns a logger scoped to one exchange.
func WithExchange(exchange string) *logrus.Entry {
	return logrus.WithField("exchange", exchange)
}

// WithSymbol returns a logger scoped to one (exchange, symbol) pair.
func WithSymbol(exchange, symbol string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"exchange": exchange,
		"symbol":   symbol,
	})
}
