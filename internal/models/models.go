package models

// All enumerates every model conduit persists, in
// migration order.
var All = []interface{}{
	&Pipeline{},
	&Step{},
	&Approval{},
	&InboundEvent{},
}
