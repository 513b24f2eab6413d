package mqtt

import "github.com/mwortham/reeve/internal/buildinfo"

// DeviceInfo is the Home Assistant device registry block shared by
// every sensor this instance publishes. One block per instance groups
// all entities under a single HA device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message, published retained on every broker (re-)connect. Name is
// the short entity name; HasEntityName tells HA to prefix it with the
// device name itself, which keeps entity ids free of double prefixes.
type SensorConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo builds the device block from the persistent instance
// id and the configured device name. The instance id is the primary
// HA identifier; renaming device_name must not orphan entity history,
// so identity lives in the id, not the name.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "mwortham",
		Model:        "Reeve Personal Assistant",
		SWVersion:    buildinfo.Version,
	}
}
