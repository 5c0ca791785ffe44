package telemetry

// Message classes. A target receives a message when its mask contains every
// bit of the message flag.
const (
	FlagPose      = 1
	FlagCollision = 2
	FlagSummary   = 4
	FlagSensors   = 8
	FlagDetection = 0x10

	FlagAll = FlagPose | FlagCollision | FlagSummary | FlagSensors | FlagDetection
)
