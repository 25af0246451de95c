/*
Package events implements a small in-process broker used by the supervisor
to fan domain events out to local subscribers; the supervisor's
structured-log sink is the one subscriber, while the metrics collector
polls the supervisor instead of subscribing. It intentionally does not cross process boundaries;
agents never subscribe to it directly, since doing so would require the
network RPC this system avoids. Cross-process signaling goes through the
message bus and status bus instead.
*/
package events
