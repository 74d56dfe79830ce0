package main

const (
	txQueueSize = 256 // capacity of the async TX funnel
	rxQueueSize = 256 // buffered inbound frames before shedding
)
