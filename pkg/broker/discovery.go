package broker

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Home Assistant discovery. One retained config message per entity under the
// hass prefix lets the hub build its UI without manual configuration: a
// connectivity sensor, the height sensor, four preset buttons and a refresh
// button.

type availability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

type sensorConfig struct {
	Name              string         `json:"name"`
	DeviceClass       string         `json:"device_class,omitempty"`
	StateTopic        string         `json:"state_topic"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	Availability      []availability `json:"availability,omitempty"`
	Icon              string         `json:"icon,omitempty"`
}

type buttonConfig struct {
	Name         string         `json:"name"`
	CommandTopic string         `json:"command_topic"`
	PayloadPress string         `json:"payload_press"`
	Availability []availability `json:"availability"`
	Icon         string         `json:"icon"`
}

// discoveryMessages builds the (topic, payload) set for this device.
func (c *Coordinator) discoveryMessages() map[string]interface{} {
	avail := []availability{{
		Topic:               c.connectedTopic,
		PayloadAvailable:    payloadOn,
		PayloadNotAvailable: payloadOff,
	}}

	msgs := map[string]interface{}{
		fmt.Sprintf("%s/binary_sensor/%s_connected/config", c.cfg.HassPrefix, c.cfg.ID): sensorConfig{
			Name:        fmt.Sprintf("%s Connected", c.cfg.Name),
			DeviceClass: "connectivity",
			StateTopic:  c.connectedTopic,
		},
		fmt.Sprintf("%s/sensor/%s_height/config", c.cfg.HassPrefix, c.cfg.ID): sensorConfig{
			Name:              fmt.Sprintf("%s Height", c.cfg.Name),
			StateTopic:        c.heightTopic,
			UnitOfMeasurement: "in",
			Availability:      avail,
			Icon:              "mdi:human-male-height",
		},
		fmt.Sprintf("%s/button/%s_refresh/config", c.cfg.HassPrefix, c.cfg.ID): buttonConfig{
			Name:         fmt.Sprintf("%s refresh", c.cfg.Name),
			CommandTopic: c.commandTopic,
			PayloadPress: "REFRESH",
			Availability: avail,
			Icon:         "mdi:refresh",
		},
	}
	for i := 1; i <= 4; i++ {
		topic := fmt.Sprintf("%s/button/%s_preset_%d/config", c.cfg.HassPrefix, c.cfg.ID, i)
		msgs[topic] = buttonConfig{
			Name:         fmt.Sprintf("%s %d", c.cfg.Name, i),
			CommandTopic: c.commandTopic,
			PayloadPress: fmt.Sprintf("%d", i),
			Availability: avail,
			Icon:         fmt.Sprintf("mdi:numeric-%d-circle", i),
		}
	}
	return msgs
}

func (c *Coordinator) publishDiscovery(client mqtt.Client) error {
	for topic, config := range c.discoveryMessages() {
		payload, err := json.Marshal(config)
		if err != nil {
			return errors.Wrapf(err, "marshal discovery config for %s", topic)
		}
		token := client.Publish(topic, 1, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			return errors.Errorf("publish discovery config to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return errors.Wrapf(err, "publish discovery config to %s", topic)
		}
		klog.V(2).InfoS("Published discovery config", "topic", topic)
	}
	return nil
}
