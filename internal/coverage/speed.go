package coverage

import "math"

type baseSpeed struct {
	down, up float64 // Mbps
}

var baseSpeeds = map[ServiceType]baseSpeed{
	ServiceFibre:            {1000, 1000},
	Service5G:               {500, 100},
	ServiceFixedLTE:         {100, 50},
	ServiceUncappedWireless: {50, 20},
	ServiceLicensedWireless: {100, 100},
	ServiceLTE:              {50, 20},
	Service3G900:            {10, 5},
	Service3G2100:           {20, 10},
	Service2G:               {1, 0.5},
}

func signalMultiplier(s Signal) float64 {
	switch s {
	case SignalExcellent:
		return 1.0
	case SignalGood:
		return 0.8
	case SignalFair:
		return 0.6
	case SignalPoor:
		return 0.4
	default:
		return 0
	}
}

// EstimateSpeed derives expected bandwidth from the service's nominal speed
// scaled by signal quality. It returns nil when there is no usable signal.
func EstimateSpeed(st ServiceType, signal Signal) *EstimatedSpeed {
	base, ok := baseSpeeds[st]
	m := signalMultiplier(signal)
	if !ok || m == 0 {
		return nil
	}
	return &EstimatedSpeed{
		Download: formatSpeed(base.down * m),
		Upload:   formatSpeed(base.up * m),
	}
}

func formatSpeed(mbps float64) Speed {
	if mbps >= 1000 {
		return Speed{Value: math.Round(mbps/100) / 10, Unit: "Gbps"}
	}
	if mbps < 1 {
		return Speed{Value: math.Round(mbps*10) / 10, Unit: "Mbps"}
	}
	return Speed{Value: math.Round(mbps), Unit: "Mbps"}
}
