package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for poolkit telemetry, following OpenTelemetry naming
// conventions: namespace.attribute_name
const (
	// AttrEnvironment labels every signal with the deployment environment.
	AttrEnvironment = attribute.Key("environment")
	// AttrPoolName labels pool metrics by logical pool (projectiles, sparks, ...).
	AttrPoolName = attribute.Key("pool.name")
)

// PoolAttributes returns common attributes for pool metrics.
func PoolAttributes(environment, poolName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrPoolName.String(poolName),
	}
}
