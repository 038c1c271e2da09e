package cmd

import (
	"fmt"
	"os"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// setupLogging configures the standard logrus logger from log.level and
// log.format. Logs go to stderr so rendered tiles can be piped from stdout.
func setupLogging() error {
	log := logrus.StandardLogger()

	switch format := viper.GetString("log.format"); format {
	case "", "text":
		log.SetFormatter(&nested.Formatter{
			HideKeys:        false,
			ShowFullLevel:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stderr))
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
		log.SetOutput(os.Stderr)
	default:
		return fmt.Errorf("unknown log format %q (text|json)", format)
	}

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	return nil
}
