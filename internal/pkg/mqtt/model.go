package mqtt

type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

type RegisterMessage struct {
	Tilda             string         `json:"~"`
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	StateTopic        string         `json:"state_topic"`
	ValueTemplate     string         `json:"value_template,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	Device            RegisterDevice `json:"device"`
}

type sensor struct {
	Slug string
	Name string
	Unit string
}

var sensors = []sensor{
	{Slug: "voltage", Name: "Voltage", Unit: "V"},
	{Slug: "current", Name: "Current", Unit: "A"},
	{Slug: "power", Name: "Power", Unit: "W"},
	{Slug: "frequency", Name: "Frequency", Unit: "Hz"},
	{Slug: "temperature", Name: "Temperature", Unit: "°C"},
	{Slug: "status", Name: "Status"},
}

type statePayload struct {
	Value             string `json:"value"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
}
