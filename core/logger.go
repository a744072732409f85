package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Log levels accepted by LoggingConfig.Level
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var levelRank = map[string]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// ProductionLogger writes leveled, structured logs tagged with the service
// and component that produced them. JSON is the default format; text is used
// for local development.
type ProductionLogger struct {
	level       string
	serviceName string
	component   string
	format      string
	timeFormat  string
	output      io.Writer

	// mu is shared between a logger and the children created by WithComponent
	mu *sync.Mutex
}

// NewProductionLogger creates a logger from logging and development config.
// Development debug logging forces the debug level; pretty logs force text.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	level := strings.ToLower(logging.Level)
	if _, ok := levelRank[level]; !ok {
		level = LogLevelInfo
	}
	if dev.DebugLogging {
		level = LogLevelDebug
	}

	format := logging.Format
	if format == "" {
		format = "json"
	}
	if dev.PrettyLogs {
		format = "text"
	}

	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:       level,
		serviceName: serviceName,
		component:   "framework/core",
		format:      format,
		timeFormat:  logging.TimeFormat,
		output:      output,
		mu:          &sync.Mutex{},
	}
}

// WithComponent returns a logger that tags entries with component.
// The child writes to the same output as its parent.
func (p *ProductionLogger) WithComponent(component string) Logger {
	child := *p
	child.component = component
	return &child
}

// createComponentLogger tags logger with component when it supports it
func createComponentLogger(logger Logger, component string) Logger {
	if cal, ok := logger.(ComponentAwareLogger); ok {
		return cal.WithComponent(component)
	}
	return logger
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.log(LogLevelInfo, msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.log(LogLevelError, msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.log(LogLevelWarn, msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	p.log(LogLevelDebug, msg, fields)
}

func (p *ProductionLogger) shouldLog(level string) bool {
	min, ok := levelRank[p.level]
	if !ok {
		min = levelRank[LogLevelInfo]
	}
	return levelRank[level] >= min
}

func (p *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	if !p.shouldLog(level) {
		return
	}

	timeFormat := p.timeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	timestamp := time.Now().Format(timeFormat)

	var line string
	if p.format == "json" {
		line = p.formatJSON(timestamp, level, msg, fields)
	} else {
		line = p.formatText(timestamp, level, msg, fields)
	}
	if line == "" {
		return
	}

	if p.mu != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	fmt.Fprintln(p.output, line)
}

func (p *ProductionLogger) formatJSON(timestamp, level, msg string, fields map[string]interface{}) string {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     strings.ToUpper(level),
		"service":   p.serviceName,
		"component": p.component,
		"message":   msg,
	}
	for k, v := range fields {
		// Avoid overwriting core fields
		if k != "timestamp" && k != "level" && k != "service" && k != "component" && k != "message" {
			entry[k] = v
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p *ProductionLogger) formatText(timestamp, level, msg string, fields map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] [%s] %s", timestamp, strings.ToUpper(level), p.serviceName, p.component, msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}
