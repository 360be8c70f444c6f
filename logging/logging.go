package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/Velocidex/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

var (
	GenericComponent      = "Memtriage"
	FrontendComponent     = "MemtriageFrontend"
	ToolComponent         = "MemtriageTool"
	OrchestratorComponent = "MemtriageOrchestrator"
	RunnerComponent       = "MemtriageRunner"
	EnrichmentComponent   = "MemtriageEnrichment"

	// Tags look like <green> and are closed by </> or </green>.
	tag_regex         = regexp.MustCompile("<([a-z]+)>")
	closing_tag_regex = regexp.MustCompile("</[a-z]*>")

	// Set when the console should not receive info messages.
	SuppressLogging = false
	NoColor         = true

	mu      sync.Mutex
	Manager *LogManager

	// Messages logged before the config is known are kept here and
	// replayed into the log file once it is opened.
	prelog_mu     sync.Mutex
	prelog_buffer []string
)

type LogContext struct {
	*logrus.Logger
}

func (self *LogContext) Debug(format string, v ...interface{}) {
	self.Logger.Debug(fmt.Sprintf(format, v...))
}

func (self *LogContext) Info(format string, v ...interface{}) {
	self.Logger.Info(fmt.Sprintf(format, v...))
}

func (self *LogContext) Warn(format string, v ...interface{}) {
	self.Logger.Warn(fmt.Sprintf(format, v...))
}

func (self *LogContext) Error(format string, v ...interface{}) {
	self.Logger.Error(fmt.Sprintf(format, v...))
}

type LogManager struct {
	mu       sync.Mutex
	contexts map[*string]*LogContext

	// Extra hooks installed by AddLogFile()
	hooks []logrus.Hook
}

func (self *LogManager) GetLogger(
	config_obj *config_proto.Config, component *string) *LogContext {
	self.mu.Lock()
	defer self.mu.Unlock()

	ctx, pres := self.contexts[component]
	if pres {
		return ctx
	}

	ctx = self.makeNewComponent(config_obj, component)
	self.contexts[component] = ctx
	return ctx
}

func (self *LogManager) makeNewComponent(
	config_obj *config_proto.Config, component *string) *LogContext {
	logger := logrus.New()
	logger.Out = io.Discard
	logger.Level = logrus.InfoLevel
	logger.SetFormatter(&Formatter{component: *component})

	if !SuppressLogging {
		logger.Out = os.Stderr
	}

	if config_obj != nil && config_obj.Logging != nil {
		if config_obj.Logging.Debug {
			logger.Level = logrus.DebugLevel
		}

		if config_obj.Logging.OutputDirectory != "" {
			hook, err := makeRotatingHook(config_obj.Logging, *component)
			if err == nil {
				logger.AddHook(hook)
			} else {
				fmt.Fprintf(os.Stderr, "Unable to open log directory %v: %v\n",
					config_obj.Logging.OutputDirectory, err)
			}
		}
	}

	for _, hook := range self.hooks {
		logger.AddHook(hook)
	}
	logger.AddHook(memory_hook)

	return &LogContext{Logger: logger}
}

func makeRotatingHook(
	config_obj *config_proto.LoggingConfig, component string) (logrus.Hook, error) {
	base_directory := config_obj.OutputDirectory
	err := os.MkdirAll(base_directory, 0700)
	if err != nil {
		return nil, err
	}

	rotation := time.Duration(config_obj.RotationHours) * time.Hour
	if rotation == 0 {
		rotation = 24 * time.Hour
	}

	max_age := time.Duration(config_obj.MaxAgeHours) * time.Hour
	if max_age == 0 {
		max_age = 365 * 24 * time.Hour
	}

	writer_map := lfshook.WriterMap{}
	for _, level := range []logrus.Level{
		logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel,
		logrus.ErrorLevel} {
		filename := filepath.Join(base_directory,
			fmt.Sprintf("%s_%s.log", component, level.String()))

		writer, err := rotatelogs.New(
			filename+".%Y%m%d%H%M",
			rotatelogs.WithLinkName(filename),
			rotatelogs.WithRotationTime(rotation),
			rotatelogs.WithMaxAge(max_age))
		if err != nil {
			return nil, err
		}
		writer_map[level] = writer
	}

	return lfshook.NewHook(writer_map, &logrus.JSONFormatter{
		DisableHTMLEscape: true,
	}), nil
}

func GetLogger(config_obj *config_proto.Config, component *string) *LogContext {
	mu.Lock()
	manager := Manager
	if manager == nil {
		manager = &LogManager{contexts: make(map[*string]*LogContext)}
		Manager = manager
	}
	mu.Unlock()

	return manager.GetLogger(config_obj, component)
}

// Send all log messages to the file as well.
func AddLogFile(filename string) error {
	fd, err := os.OpenFile(filename,
		os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return err
	}

	hook := lfshook.NewHook(fd, &Formatter{component: GenericComponent})

	mu.Lock()
	if Manager == nil {
		Manager = &LogManager{contexts: make(map[*string]*LogContext)}
	}
	manager := Manager
	mu.Unlock()

	manager.mu.Lock()
	manager.hooks = append(manager.hooks, hook)
	for _, ctx := range manager.contexts {
		ctx.AddHook(hook)
	}
	manager.mu.Unlock()

	// Replay anything we logged before the file was available.
	prelog_mu.Lock()
	for _, line := range prelog_buffer {
		fmt.Fprintln(fd, line)
	}
	prelog_buffer = nil
	prelog_mu.Unlock()

	return nil
}

// Reset drops all the cached loggers so they are rebuilt on the next
// GetLogger() call. Used when the config changes.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	Manager = nil
}

// Prelog logs a message before we have a config to log with.
func Prelog(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	prelog_mu.Lock()
	prelog_buffer = append(prelog_buffer, clearTag(msg))
	prelog_mu.Unlock()

	if !SuppressLogging {
		fmt.Fprintf(os.Stderr, "[INFO] %v %s\n",
			time.Now().UTC().Format(time.RFC3339), clearTag(msg))
	}
}

type Formatter struct {
	component string
}

func (self *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	level_text := strings.ToUpper(entry.Level.String())
	fmt.Fprintf(b, "[%s] %v %s", level_text,
		entry.Time.UTC().Format(time.RFC3339),
		strings.TrimRight(clearTag(entry.Message), "\r\n"))

	for k, v := range entry.Data {
		fmt.Fprintf(b, " %s=%v", k, v)
	}
	b.WriteByte('\n')

	return b.Bytes(), nil
}

func clearTag(message string) string {
	message = tag_regex.ReplaceAllString(message, "")
	return closing_tag_regex.ReplaceAllString(message, "")
}

const max_memory_logs = 1000

// Keeps the most recent messages so tests can inspect them.
type memoryHook struct {
	mu    sync.Mutex
	lines []string
}

func (self *memoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (self *memoryHook) Fire(entry *logrus.Entry) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.lines = append(self.lines, fmt.Sprintf("%s %s",
		strings.ToUpper(entry.Level.String()), clearTag(entry.Message)))
	if len(self.lines) > max_memory_logs {
		self.lines = self.lines[len(self.lines)-max_memory_logs:]
	}
	return nil
}

var memory_hook = &memoryHook{}

func GetMemoryLogs() []string {
	memory_hook.mu.Lock()
	defer memory_hook.mu.Unlock()

	return append([]string{}, memory_hook.lines...)
}

func ClearMemoryLogs() {
	memory_hook.mu.Lock()
	defer memory_hook.mu.Unlock()

	memory_hook.lines = nil
}
