package main

import (
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/scheduler"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

// loadSchedules reads each configured workflow document once at startup
// and registers it with sched under its configured trigger. A schedule
// naming an MQTT topic is bound to a single shared MQTTTrigger, returned
// so main can close it on shutdown; nil if no schedule uses MQTT.
func (s *server) loadSchedules(cfg *config.Config, sched *scheduler.Scheduler, log *zap.Logger) *scheduler.MQTTTrigger {
	var mqttTrigger *scheduler.MQTTTrigger
	snap := s.reg.Snapshot()

	for _, sc := range cfg.Schedules {
		wf, err := loadScheduledWorkflow(sc.WorkflowPath)
		if err != nil {
			log.Error("load scheduled workflow", zap.String("path", sc.WorkflowPath), zap.Error(err))
			continue
		}

		switch {
		case sc.CronExpr != "":
			if err := sched.AddCronTrigger(wf.Name, sc.CronExpr, wf, snap); err != nil {
				log.Error("add cron trigger", zap.String("workflow", wf.Name), zap.Error(err))
			}
		case sc.Interval > 0:
			if err := sched.AddIntervalTrigger(wf.Name, sc.Interval, wf, snap); err != nil {
				log.Error("add interval trigger", zap.String("workflow", wf.Name), zap.Error(err))
			}
		case sc.MQTTTopic != "":
			if mqttTrigger == nil {
				mqttTrigger, err = scheduler.NewMQTTTrigger(scheduler.MQTTTriggerConfig{
					Broker:        cfg.MQTT.Broker,
					ClientID:      cfg.MQTT.ClientID,
					AutoReconnect: true,
				}, sched, log)
				if err != nil {
					log.Error("connect mqtt trigger", zap.Error(err))
					continue
				}
			}
			if err := sched.Register(wf.Name, wf, snap); err != nil {
				log.Error("register mqtt-triggered workflow", zap.String("workflow", wf.Name), zap.Error(err))
				continue
			}
			if err := mqttTrigger.Bind(sc.MQTTTopic, wf.Name, 1); err != nil {
				log.Error("bind mqtt trigger", zap.String("topic", sc.MQTTTopic), zap.Error(err))
			}
		default:
			log.Warn("schedule has no trigger configured, skipping", zap.String("path", sc.WorkflowPath))
		}
	}

	return mqttTrigger
}

func loadScheduledWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}
