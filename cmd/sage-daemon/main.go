package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"sage/internal/config"
	"sage/internal/genai"
	"sage/internal/ipc"
	"sage/internal/notify"
	"sage/internal/pipeline"
	"sage/internal/player"
	"sage/internal/proxy"
	"sage/internal/recorder"
	"sage/internal/ui"
	"sage/pkg/audioconv"
	"sage/pkg/pcm"
	"sage/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Optional SOCKS5 proxy address")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	api := newAPIClient(cfg, *proxyAddr)

	transcriber, closeSTT, err := newTranscriber(cfg, api)
	if err != nil {
		log.Error("Failed to init transcriber", "err", err)
		os.Exit(1)
	}
	defer closeSTT()

	rec := recorder.New()
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio capture", "err", err)
		os.Exit(1)
	}
	defer rec.Close()

	if err := player.InitSpeaker(); err != nil {
		log.Error("Failed to open audio output", "err", err)
		os.Exit(1)
	}

	a := &app{
		cfg:  cfg,
		pipe: pipeline.New(api, transcriber, log.Default()),
		rec:  rec,
		play: player.New(player.SpeakerOutput{}),
		duck: player.NewDucker("sage", cfg.DuckFactor, cfg.DuckFade),
	}
	defer a.play.Close()

	a.web = ui.NewServer(log.Default(), a.handleUICommand)
	a.web.Start(cfg.ListenAddr)
	a.play.OnChange(a.broadcast)

	if err := ipc.StartServer(a.handleControl); err != nil {
		log.Error("Failed to start control socket", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.watch(ctx)

	log.Info("Boot up - successful", "ui", "http://"+cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down")
	a.pipe.Wait()
}

func newAPIClient(cfg config.Config, proxyAddr string) *genai.Client {
	genCfg := genai.Config{
		ChatModel:   cfg.ChatModel,
		SpeechModel: cfg.SpeechModel,
		ImageModel:  cfg.ImageModel,
		Voice:       cfg.Voice,
	}

	if proxyAddr == "" {
		return genai.NewClient(cfg.APIKey, genCfg, nil)
	}

	hc, err := proxy.NewSocksClient(proxyAddr)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", proxyAddr, "err", err)
		os.Exit(1)
	}
	log.Debug("Loaded proxy", "addr", proxyAddr)
	return genai.NewClient(cfg.APIKey, genCfg, hc)
}

// newTranscriber picks local whisper when a model is configured,
// otherwise the remote endpoint.
func newTranscriber(cfg config.Config, api *genai.Client) (pipeline.Transcriber, func(), error) {
	if cfg.WhisperModel == "" {
		return api, func() {}, nil
	}

	local, err := stt.New(cfg.WhisperModel, "auto")
	if err != nil {
		return nil, nil, err
	}
	log.Info("Using local whisper", "model", cfg.WhisperModel)
	return local, func() { local.Close() }, nil
}

// app owns the daemon's moving parts and routes commands from the UI
// and the control socket into the pipeline and the player.
type app struct {
	cfg  config.Config
	pipe *pipeline.Pipeline
	rec  *recorder.Recorder
	play *player.Player
	duck *player.Ducker
	web  *ui.Server

	recMu   sync.Mutex
	recStop chan struct{} // non-nil while a UI-toggled recording runs

	speechMu   sync.Mutex
	lastSpeech string
	wasPlaying bool
}

// uiState is what browsers see: the pipeline snapshot plus playback.
type uiState struct {
	pipeline.Snapshot
	Playing bool `json:"playing"`
}

// watch follows pipeline snapshots, loads freshly synthesized speech
// into the player and relays every change to the browsers.
func (a *app) watch(ctx context.Context) {
	snaps, cancel := a.pipe.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			a.onSnapshot(snap)
		}
	}
}

func (a *app) onSnapshot(snap pipeline.Snapshot) {
	a.speechMu.Lock()
	switch {
	case snap.Result.SpeechPCM != "" && snap.Result.SpeechPCM != a.lastSpeech:
		a.lastSpeech = snap.Result.SpeechPCM
		a.speechMu.Unlock()
		a.loadSpeech(snap.Result.SpeechPCM)
	case snap.Result.SpeechPCM == "" && a.lastSpeech != "":
		// A new query replaced the aggregate; the old clip goes with it.
		a.lastSpeech = ""
		a.speechMu.Unlock()
		a.play.Unload()
	default:
		a.speechMu.Unlock()
	}

	a.web.Broadcast(uiState{Snapshot: snap, Playing: a.play.IsPlaying()})
}

func (a *app) loadSpeech(payload string) {
	samples, err := pcm.DecodeBase64(payload)
	if err != nil {
		// Terminal for this clip; the play button stays disabled.
		log.Error("Speech payload unusable", "err", err)
		return
	}
	a.play.SetClip(samples)
	log.Info("Speech ready", "duration", pcm.Duration(len(samples)))
}

func (a *app) broadcast() {
	playing := a.play.IsPlaying()

	a.speechMu.Lock()
	ended := a.wasPlaying && !playing
	a.wasPlaying = playing
	a.speechMu.Unlock()

	if ended {
		// Playback may have stopped inside the speaker callback; pactl
		// work does not belong there.
		go a.duck.Restore(context.Background())
	}

	a.web.Broadcast(uiState{Snapshot: a.pipe.Snapshot(), Playing: playing})
}

func (a *app) handleUICommand(cmd ui.Command) {
	switch cmd.Cmd {
	case "ask":
		if err := a.pipe.Ask(context.Background(), cmd.Text); err != nil {
			log.Warn("Query rejected", "err", err)
		}
	case "record":
		a.toggleRecording()
	case "speech":
		a.toggleSpeech()
	case "stop":
		a.play.Stop()
	default:
		log.Warn("Unknown ui command", "cmd", cmd.Cmd)
	}
}

func (a *app) handleControl(msg ipc.ControlMessage) ipc.Reply {
	switch msg.Cmd {
	case "ask":
		if err := a.pipe.Ask(context.Background(), msg.Arg); err != nil {
			return ipc.Reply{Info: err.Error()}
		}
		return ipc.Reply{OK: true}
	case "ask-file":
		return a.askFile(msg.Arg)
	case "trigger":
		a.triggerAuto()
		return ipc.Reply{OK: true, Info: "listening"}
	case "speech":
		a.toggleSpeech()
		return ipc.Reply{OK: true}
	case "stop":
		a.play.Stop()
		return ipc.Reply{OK: true}
	case "status":
		return ipc.Reply{OK: true, Info: string(a.pipe.Snapshot().Phase)}
	default:
		return ipc.Reply{Info: "unknown command: " + msg.Cmd}
	}
}

func (a *app) askFile(path string) ipc.Reply {
	samples, err := audioconv.DecodeFile(path)
	if err != nil {
		log.Error("Failed to decode audio file", "path", path, "err", err)
		return ipc.Reply{Info: err.Error()}
	}
	if err := a.pipe.AskPCM(context.Background(), samples); err != nil {
		return ipc.Reply{Info: err.Error()}
	}
	return ipc.Reply{OK: true}
}

// triggerAuto records hands-free: capture ends on sustained silence.
func (a *app) triggerAuto() {
	if err := a.pipe.BeginRecording(); err != nil {
		log.Warn("Cannot start listening", "err", err)
		return
	}

	go func() {
		notify.Cue(880)
		notify.Desktop("Listening...")

		samples, err := a.rec.Auto()
		notify.Cue(660)
		if err != nil {
			log.Error("Recording failed", "err", err)
			a.pipe.AbortRecording(captureFailureMessage(err))
			return
		}

		log.Info("Recorded", "samples", len(samples))
		if err := a.pipe.AskPCM(context.Background(), samples); err != nil {
			log.Warn("Transcription rejected", "err", err)
		}
	}()
}

// toggleRecording starts a UI-driven recording, or finishes the one in
// progress and hands the samples to the pipeline.
func (a *app) toggleRecording() {
	a.recMu.Lock()
	if a.recStop != nil {
		close(a.recStop)
		a.recStop = nil
		a.recMu.Unlock()
		return
	}

	if err := a.pipe.BeginRecording(); err != nil {
		a.recMu.Unlock()
		log.Warn("Cannot start listening", "err", err)
		return
	}

	stop := make(chan struct{})
	a.recStop = stop
	a.recMu.Unlock()

	go func() {
		notify.Cue(880)
		samples, err := a.rec.Until(stop, a.cfg.MaxRecord)
		notify.Cue(660)

		a.recMu.Lock()
		if a.recStop == stop {
			a.recStop = nil
		}
		a.recMu.Unlock()

		if err != nil {
			log.Error("Recording failed", "err", err)
			a.pipe.AbortRecording(captureFailureMessage(err))
			return
		}
		if err := a.pipe.AskPCM(context.Background(), samples); err != nil {
			log.Warn("Transcription rejected", "err", err)
		}
	}()
}

// captureFailureMessage maps a capture error to the one-line message
// surfaced in the UI. A capture that heard only silence is not a device
// failure.
func captureFailureMessage(err error) string {
	if errors.Is(err, recorder.ErrNoSpeech) {
		return "No speech detected."
	}
	return "Could not record from the microphone."
}

// toggleSpeech flips playback of the synthesized explanation, ducking
// other desktop audio while it plays.
func (a *app) toggleSpeech() {
	if !a.play.Loaded() {
		return
	}

	if a.play.IsPlaying() {
		// The state-change hook unducks.
		a.play.Pause()
		return
	}

	if err := a.duck.Duck(context.Background()); err != nil {
		log.Debug("Duck failed", "err", err)
	}
	a.play.Play()
}
