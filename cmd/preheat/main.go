package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/preheat/cmd/app"
	"github.com/Agrid-Dev/preheat/internal/automation"
	httpctrl "github.com/Agrid-Dev/preheat/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/preheat/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/preheat/internal/controllers/mqtt"
	"github.com/Agrid-Dev/preheat/internal/environment"
	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/hoststate"
	"github.com/Agrid-Dev/preheat/internal/logger"
	"github.com/Agrid-Dev/preheat/internal/notify"
	"github.com/Agrid-Dev/preheat/internal/ports"
	"github.com/Agrid-Dev/preheat/internal/sessionlog"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.Parse()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		logger.New(logger.InfoLevel).Fatalw("failed to load config", "path", configPath, "error", err)
	}
	log := logger.New(cfg.LogLevel).With("instance", cfg.InstanceID)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid config", "error", err)
	}

	table, err := cfg.CoefficientTable()
	if err != nil {
		log.Fatalw("failed to load coefficients", "error", err)
	}
	predictor, err := heating.NewPredictor(table)
	if err != nil {
		log.Fatalw("invalid coefficients", "error", err)
	}

	state := hoststate.New(cfg.MinTemperature, cfg.ScheduleHorizon)

	var sessions ports.SessionStore
	if cfg.Sessions.Enabled {
		db, err := sessionlog.InitDB(cfg.Sessions.Path)
		if err != nil {
			log.Fatalw("failed to open session log", "path", cfg.Sessions.Path, "error", err)
		}
		defer db.Close()
		sessions = sessionlog.NewStore(db)
	}

	var notifiers notify.Multi
	if cfg.Events.Log.Enabled {
		notifiers = append(notifiers, notify.NewLog(log))
	}
	if k := cfg.Events.Kafka; k.Enabled {
		kn, err := notify.NewKafka(notify.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			WriteTimeout: k.WriteTimeout,
		})
		if err != nil {
			log.Fatalw("failed to set up kafka events", "error", err)
		}
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}

	// The coordinator is the RoomService the controllers read from, so the
	// MQTT controller reads through a late-bound proxy.
	svc := &roomService{}

	var mqttController *mqttctrl.Controller
	if m := cfg.Controllers.MQTT; m.Enabled {
		mqttController, err = mqttctrl.New(svc, state, mqttctrl.Config{
			InstanceID:      cfg.InstanceID,
			BrokerURL:       m.BrokerURL,
			ClientID:        m.ClientID,
			BaseTopic:       m.BaseTopic,
			QoS:             m.QoS,
			RetainSnapshot:  m.RetainSnapshot,
			PublishInterval: m.PublishInterval,
			PublishTimeout:  m.PublishTimeout,
			Username:        m.Username,
			Password:        m.Password,
		}, log)
		if err != nil {
			log.Fatalw("failed to set up mqtt controller", "error", err)
		}
		if m.PublishEvents {
			notifiers = append(notifiers, mqttController)
		}
	}

	coordinator, err := automation.New(automation.Params{
		Predictor: predictor,
		Rooms:     cfg.Devices(),
		Schedules: state,
		Env:       state,
		Notifier:  notifiers,
		Sessions:  sessions,
		Log:       log,
	})
	if err != nil {
		log.Fatalw("failed to set up coordinator", "error", err)
	}
	svc.RoomService = coordinator

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return coordinator.Run(ctx, cfg.TickInterval) })

	if h := cfg.Controllers.HTTP; h.Enabled {
		srv := httpctrl.New(coordinator, state, h.Addr)
		log.Infow("http controller listening", "addr", h.Addr)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if mqttController != nil {
		log.Infow("mqtt controller connecting", "broker", cfg.Controllers.MQTT.BrokerURL)
		g.Go(func() error { return mqttController.Run(ctx) })
	}

	if m := cfg.Controllers.Modbus; m.Enabled {
		mc, err := modbusctrl.New(coordinator, state, state, modbusctrl.Config{
			Addr:   m.Addr,
			UnitID: m.UnitID,
			Rooms:  cfg.RoomIDs(),
		})
		if err != nil {
			log.Fatalw("failed to set up modbus controller", "error", err)
		}
		log.Infow("modbus controller listening", "addr", m.Addr, "unit_id", m.UnitID)
		g.Go(func() error { return mc.Run(ctx) })
	}

	if hp := cfg.Environment.HeatPump; hp.Enabled {
		poller, err := environment.New(environment.Config{
			Addr:            hp.Addr,
			SlaveID:         hp.SlaveID,
			RegisterType:    environment.RegisterType(hp.RegisterType),
			FlowRegister:    hp.FlowRegister,
			OutsideRegister: hp.OutsideRegister,
			Scale:           hp.Scale,
			Interval:        hp.Interval,
			Timeout:         hp.Timeout,
		}, state, log)
		if err != nil {
			log.Fatalw("failed to set up heat pump poller", "error", err)
		}
		g.Go(func() error { return poller.Run(ctx) })
	}

	log.Infow("preheat started", "rooms", len(cfg.Rooms), "tick", cfg.TickInterval)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("preheat exited", "error", err)
	}
}

// roomService lets adapters be built before the coordinator they read from.
type roomService struct {
	ports.RoomService
}
