package fees

// UnmarshalText lets TOML and JSON decoders accept a method name in any case.
func (m *Method) UnmarshalText(data []byte) error {
	parsed, err := ParseMethod(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Method) MarshalText() ([]byte, error) {
	if m == "" {
		return []byte(MethodPercentage), nil
	}
	return []byte(m), nil
}

// Side names used on the wire.
const (
	sideMakerName = "maker"
	sideTakerName = "taker"
)

func (s Side) String() string {
	if s == SideMaker {
		return sideMakerName
	}
	return sideTakerName
}
