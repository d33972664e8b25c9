// CortexVoice - shared voice room client with presence and an animated face
package main

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"

	"github.com/normanking/cortexvoice/internal/assistant"
	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/avatar"
	"github.com/normanking/cortexvoice/internal/bridge"
	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/logging"
	"github.com/normanking/cortexvoice/internal/memory"
	"github.com/normanking/cortexvoice/internal/realtime"
	"github.com/normanking/cortexvoice/internal/recorder"
)

//go:embed all:frontend/dist
var assets embed.FS

// Global logger instance
var syslog *logging.Logger

// getAssets returns the frontend assets with the correct path
func getAssets() fs.FS {
	fsys, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		syslog.Error("assets", "Failed to get assets", err, nil)
		panic(err)
	}

	entries, _ := fs.ReadDir(fsys, ".")
	syslog.Debug("assets", "Assets loaded", map[string]interface{}{
		"fileCount": len(entries),
	})

	return fsys
}

// loadEnvFile loads credentials from ~/.cortexvoice/.env into the
// process environment without overriding variables already set.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		syslog.Warn("env", "Could not get home directory", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	envPath := filepath.Join(home, ".cortexvoice", ".env")
	file, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	loadedCount := 0
	loadedKeys := []string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			loadedCount++
			loadedKeys = append(loadedKeys, key)
		}
	}
	if loadedCount > 0 {
		syslog.Info("env", "Loaded environment variables", map[string]interface{}{
			"source": filepath.Base(envPath),
			"count":  loadedCount,
			"keys":   strings.Join(loadedKeys, ", "),
		})
	}
}

func main() {
	// Initialize structured logger FIRST
	var err error
	syslog, err = logging.New(nil) // Uses default config
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	syslog.Info("main", "========================================", nil)
	syslog.Info("main", "CortexVoice starting...", nil)
	syslog.Info("main", "========================================", nil)

	// Load credentials from .env
	loadEnvFile()

	// Get zerolog instance for components that need it
	zlogger := syslog.Zerolog()

	// Load configuration
	syslog.Debug("config", "Loading configuration", nil)
	cfg, err := config.Load()
	if err != nil {
		syslog.Warn("config", "Failed to load config, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		cfg = config.DefaultConfig()
	}
	syslog.Info("config", "Configuration loaded", map[string]interface{}{
		"windowSize": fmt.Sprintf("%dx%d", cfg.Window.Width, cfg.Window.Height),
		"roomServer": cfg.Room.ServerURL,
	})

	// Create event bus
	syslog.Debug("bus", "Creating event bus", nil)
	eventBus := bus.NewEventBus()

	// Create microphone manager
	syslog.Debug("audio", "Creating audio manager", nil)
	capCfg := audio.CaptureConfig{
		InputDevice:      cfg.Audio.InputDevice,
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         cfg.Audio.Channels,
		FrameSize:        cfg.Audio.FrameSize,
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		AutoGainControl:  cfg.Audio.AutoGainControl,
	}
	meterCfg := audio.MeterConfig{
		GainBoost:        cfg.Audio.GainBoost,
		Smoothing:        cfg.Audio.Smoothing,
		SilenceThreshold: cfg.Audio.SilenceThreshold,
	}
	audioManager, err := audio.NewManager(capCfg, meterCfg, eventBus, zlogger)
	if err != nil {
		syslog.Error("audio", "Failed to create audio manager", err, nil)
		os.Exit(1)
	}

	// Create voice endpoint client
	syslog.Debug("assistant", "Creating voice endpoint client", nil)
	assistantClient := assistant.NewClient(assistant.Config{
		Endpoint: cfg.Assistant.Endpoint,
		Token:    cfg.Assistant.Token,
		Timeout:  cfg.Assistant.Timeout,
	}, eventBus, zlogger)

	// Create recording controller
	syslog.Debug("recorder", "Creating recording controller", nil)
	rec := recorder.NewController(recorder.Config{
		MinDuration:     cfg.Recorder.MinDuration,
		MinBytes:        cfg.Recorder.MinBytes,
		MaxDuration:     cfg.Recorder.MaxDuration,
		SilenceAutoStop: cfg.Recorder.SilenceAutoStop,
		SilenceFrames:   cfg.Recorder.SilenceFrames,
		SilenceDelay:    cfg.Recorder.SilenceDelay,
		TargetBitrate:   cfg.Recorder.TargetBitrate,
	}, audioManager, audio.NewWAVEncoder(cfg.Audio.SampleRate), assistantClient, eventBus, zlogger)

	// Captured frames feed the recorder; a processing status from the
	// voice endpoint force-stops any active recording.
	audioManager.OnFrame(rec.Feed)
	eventBus.Subscribe(bus.EventTypeStatusChanged, func(e bus.Event) {
		if s, ok := e.Data["status"].(string); ok {
			rec.HandleStatusChange(audio.Status(s))
		}
	})

	// Create room presence manager
	syslog.Debug("realtime", "Creating room presence manager", nil)
	identity := realtime.PresenceMeta{
		UserID: cfg.User.ID,
		Email:  cfg.User.Email,
		Name:   cfg.User.Name,
		Avatar: cfg.User.Avatar,
	}
	socketURL := realtime.SocketURL(cfg.Room.ServerURL)
	channelFactory := func() realtime.Channel {
		return realtime.NewWSChannel(socketURL, cfg.Room.Channel, cfg.Assistant.Token, zlogger)
	}
	roomManager := realtime.NewManager(realtime.Config{
		SubscribeTimeout:  cfg.Room.SubscribeTimeout,
		HeartbeatInterval: cfg.Room.HeartbeatInterval,
		MaxAttempts:       cfg.Room.MaxAttempts,
		BackoffBase:       cfg.Room.BackoffBase,
		BackoffCap:        cfg.Room.BackoffCap,
		BackoffJitter:     cfg.Room.BackoffJitter,
	}, identity, channelFactory, eventBus, zlogger)

	// Local capture levels are shared with the room so the monitor can
	// show who is speaking.
	eventBus.Subscribe(bus.EventTypeVolumeSample, func(e bus.Event) {
		level, _ := e.Data["level"].(float64)
		silent, _ := e.Data["silent"].(bool)
		roomManager.PublishVolume(level, silent)
	})

	// Create conversational memory client
	syslog.Debug("memory", "Creating memory service", nil)
	memoryService := memory.NewService(memory.Config{
		Enabled: cfg.Memory.Enabled,
		BaseURL: cfg.Memory.BaseURL,
		Token:   cfg.Memory.Token,
	}, cfg.User.ID, eventBus, zlogger)

	// Create avatar controller and model library
	syslog.Debug("avatar", "Creating avatar controller", nil)
	avatarController := avatar.NewController(avatar.DefaultConfig(), eventBus, zlogger)
	var modelLibrary *avatar.Library
	if cfg.Avatar.AssetPath != "" {
		modelLibrary = avatar.NewLibrary(cfg.Avatar.AssetPath, eventBus, zlogger)
	}

	// Create bridges
	syslog.Debug("bridge", "Creating Wails bridges", nil)
	audioBridge := bridge.NewAudioBridge(audioManager, rec, eventBus, cfg, zlogger)
	presenceBridge := bridge.NewPresenceBridge(roomManager, eventBus, cfg, zlogger)
	memoryBridge := bridge.NewMemoryBridge(memoryService, eventBus)
	avatarBridge := bridge.NewAvatarBridge(avatarController, modelLibrary, eventBus)
	logBridge := bridge.NewLogBridge(syslog)

	// Create application
	app := &App{
		cfg:              cfg,
		syslog:           syslog,
		eventBus:         eventBus,
		audioManager:     audioManager,
		rec:              rec,
		roomManager:      roomManager,
		avatarController: avatarController,
		modelLibrary:     modelLibrary,
		audioBridge:      audioBridge,
		presenceBridge:   presenceBridge,
		memoryBridge:     memoryBridge,
		avatarBridge:     avatarBridge,
		logBridge:        logBridge,
	}

	// Get assets
	assetFS := getAssets()

	// Create Wails application options
	syslog.Debug("wails", "Configuring Wails options", nil)
	appOptions := &options.App{
		Title:       cfg.Window.Title,
		Width:       cfg.Window.Width,
		Height:      cfg.Window.Height,
		MinWidth:    320,
		MinHeight:   480,
		AlwaysOnTop: cfg.Window.AlwaysOnTop,
		StartHidden: cfg.Window.StartMinimized,
		AssetServer: &assetserver.Options{
			Assets: assetFS,
		},
		BackgroundColour: &options.RGBA{R: 18, G: 20, B: 34, A: 255},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
			audioBridge,
			presenceBridge,
			memoryBridge,
			avatarBridge,
			logBridge,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				FullSizeContent:            true,
			},
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
			About: &mac.AboutInfo{
				Title:   "CortexVoice",
				Message: "Shared voice room client\nVersion 1.0.0",
			},
		},
	}

	syslog.Info("wails", "Starting Wails application...", nil)
	err = wails.Run(appOptions)
	if err != nil {
		syslog.Error("wails", "Wails.Run failed", err, nil)
		os.Exit(1)
	}

	syslog.Info("main", "Application exited normally", nil)
}

// App struct holds the main application state
type App struct {
	ctx              context.Context
	cfg              *config.Config
	syslog           *logging.Logger
	eventBus         *bus.EventBus
	audioManager     *audio.Manager
	rec              *recorder.Controller
	roomManager      *realtime.Manager
	avatarController *avatar.Controller
	modelLibrary     *avatar.Library
	audioBridge      *bridge.AudioBridge
	presenceBridge   *bridge.PresenceBridge
	memoryBridge     *bridge.MemoryBridge
	avatarBridge     *bridge.AvatarBridge
	logBridge        *bridge.LogBridge
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.syslog.Debug("lifecycle", "App.startup() called", nil)
	a.ctx = ctx

	// Bind bridges to context
	a.audioBridge.Bind(ctx)
	a.presenceBridge.Bind(ctx)
	a.memoryBridge.Bind(ctx)
	a.avatarBridge.Bind(ctx)
	a.logBridge.Bind(ctx)

	// Start the avatar frame loop
	a.avatarController.Start(context.Background())

	// Load avatar models and watch for edits
	if a.modelLibrary != nil {
		if err := a.modelLibrary.Load(); err != nil {
			a.syslog.Warn("avatar", "Failed to load avatar models", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if a.cfg.Avatar.WatchAsset {
			if err := a.modelLibrary.Watch(); err != nil {
				a.syslog.Warn("avatar", "Failed to watch avatar assets", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}

	// Join the room in the background when an identity is configured
	if a.cfg.User.ID != "" {
		a.syslog.Info("realtime", "Starting room connection in background", nil)
		go func() {
			if err := a.roomManager.Connect(); err != nil {
				a.syslog.Error("realtime", "Failed to join room", err, nil)
			}
		}()
	} else {
		a.syslog.Info("realtime", "No user identity configured, room join deferred", nil)
	}

	a.syslog.Info("lifecycle", "App.startup() complete", nil)
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	a.syslog.Info("lifecycle", "App.shutdown() called", nil)
	a.rec.Stop()
	a.audioManager.DisableMicrophone()
	a.roomManager.Disconnect()
	a.avatarController.Stop()
	if a.modelLibrary != nil {
		a.modelLibrary.Close()
	}
	a.syslog.Info("lifecycle", "CortexVoice shutdown complete", nil)
}

// GetVersion returns the application version
func (a *App) GetVersion() string {
	return "1.0.0"
}

// GetConfig returns the current configuration
func (a *App) GetConfig() *config.Config {
	return a.cfg
}
