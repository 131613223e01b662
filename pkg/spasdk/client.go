// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package spasdk

import (
	"net/rpc"
	"time"
)

// Client is the host side of the SPA service.
type Client struct {
	client *rpc.Client
}

// NewClient wraps an RPC client connected to a Server.
func NewClient(c *rpc.Client) *Client {
	return &Client{client: c}
}

// Info returns the plugin API version and factories.
func (c *Client) Info() (*InfoReply, error) {
	var reply InfoReply
	if err := c.client.Call("Plugin.Info", new(any), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Open creates an instance of factory and returns its id.
func (c *Client) Open(factory string, props []Prop) (string, error) {
	var reply OpenReply
	if err := c.client.Call("Plugin.Open", OpenArgs{Factory: factory, Props: props}, &reply); err != nil {
		return "", err
	}
	return reply.Instance, nil
}

// Interface reports whether the instance implements iface.
func (c *Client) Interface(instance, iface string) (bool, error) {
	var ok bool
	err := c.client.Call("Plugin.Interface", InterfaceArgs{Instance: instance, Interface: iface}, &ok)
	return ok, err
}

// Subscribe starts an event stream and returns its id with the initial
// events.
func (c *Client) Subscribe(instance, iface string) (string, []Event, error) {
	var reply SubscribeReply
	if err := c.client.Call("Plugin.Subscribe", SubscribeArgs{Instance: instance, Interface: iface}, &reply); err != nil {
		return "", nil, err
	}
	return reply.Subscription, reply.Events, nil
}

// Next waits up to wait for events of a subscription. closed reports that
// the stream ended.
func (c *Client) Next(subscription string, wait time.Duration) (events []Event, closed bool, err error) {
	var reply NextReply
	args := NextArgs{Subscription: subscription, WaitMillis: wait.Milliseconds()}
	if err := c.client.Call("Plugin.Next", args, &reply); err != nil {
		return nil, false, err
	}
	return reply.Events, reply.Closed, nil
}

// Unsubscribe ends an event stream.
func (c *Client) Unsubscribe(subscription string) error {
	var ok bool
	return c.client.Call("Plugin.Unsubscribe", subscription, &ok)
}

// CloseInstance releases an instance.
func (c *Client) CloseInstance(instance string) error {
	var ok bool
	return c.client.Call("Plugin.Close", instance, &ok)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}
