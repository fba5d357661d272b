package main

import "github.com/wirebond/objectrpc/internal/serverobj"

// Counter is the demo root object: a single integer property with an
// Increment method and the standard PropertyChanged event every DTO gets
// through serverobj.Base.
type Counter struct {
	*serverobj.Base
	Value int
}

// NewCounter constructs a Counter DTO. Its identifier is assigned lazily,
// the first time the server resolver serializes it (RootQuery, typically).
func NewCounter() *Counter {
	return &Counter{Base: serverobj.NewBase("Counter")}
}

// Increment adds by to Value, notifies PropertyChanged, and returns the
// new value.
func (c *Counter) Increment(by int) int {
	c.Value += by
	c.NotifyPropertyChanged("Value", c.Value)
	return c.Value
}
