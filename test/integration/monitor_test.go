// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/devmon/devmon/internal/host"
	"github.com/devmon/devmon/internal/monitor"
	"github.com/devmon/devmon/internal/policy"
	"github.com/devmon/devmon/internal/spa"
)

var _ = Describe("Monitoring devices of a backend plugin", func() {
	var s *stack

	Context("with the default flags", func() {
		BeforeEach(func() {
			s = newStack(GinkgoT().TempDir())
			s.start()
		})

		It("exports the initial device and constructs its nodes on the host", func() {
			Expect(s.monitor.State()).To(Equal(monitor.StateRunning))

			devices := s.objects(spa.TypeDevice)
			Expect(devices).To(HaveLen(1))
			Expect(devices[0].Properties).To(HaveKeyWithValue("device.name", "card0"))
			Expect(devices[0].Properties).NotTo(HaveKey(monitor.KeyObjectID))

			nodes := s.objects(spa.TypeNode)
			Expect(nodes).To(HaveLen(2))
			for _, n := range nodes {
				Expect(n.Factory).To(Equal(monitor.FactorySPANode))
				Expect(n.Owned).To(BeTrue())
				Expect(n.Properties).To(HaveKey(monitor.KeyFactoryName))
				Expect(n.Properties).NotTo(HaveKey(monitor.KeyObjectID))
			}
			Expect(s.monitor.NodeCount()).To(Equal(2))
		})

		It("follows hotplug events delivered through the control loop", func() {
			s.backend.plug(2, "usb0")
			Eventually(func() []host.ObjectInfo { return s.objects(spa.TypeDevice) }).
				WithTimeout(2 * time.Second).Should(HaveLen(2))
			Eventually(func() []host.ObjectInfo { return s.objects(spa.TypeNode) }).
				WithTimeout(2 * time.Second).Should(HaveLen(4))

			s.backend.unplug(1)
			Eventually(func() []host.ObjectInfo { return s.objects(spa.TypeDevice) }).
				WithTimeout(2 * time.Second).Should(ConsistOf(
					HaveField("Properties", HaveKeyWithValue("device.name", "usb0")),
				))
			Eventually(func() []host.ObjectInfo { return s.objects(spa.TypeNode) }).
				WithTimeout(2 * time.Second).Should(HaveLen(2))
		})

		It("ignores the removal of a device it never exported", func() {
			s.backend.unplug(42)
			Consistently(func() int { return s.core.Len() }).
				WithTimeout(100 * time.Millisecond).Should(Equal(3))
		})

		It("destroys every object and releases the plugin instances on stop", func() {
			s.invoke(func() error {
				s.monitor.Stop()
				return nil
			})

			Expect(s.core.Len()).To(BeZero())
			Expect(s.monitor.State()).To(Equal(monitor.StateStopped))
			Eventually(func() int {
				_, closed := s.backend.counts()
				return closed
			}).WithTimeout(2 * time.Second).Should(Equal(2))
		})

		It("kills the plugin when the manager closes", func() {
			Expect(s.plugins.ListPlugins()).To(ConsistOf(pluginName))
			Expect(s.clients.allKilled()).To(BeFalse())

			s.invoke(func() error { return s.monitor.Close() })
			Expect(s.plugins.Close(context.Background())).To(Succeed())

			Expect(s.plugins.ListPlugins()).To(BeEmpty())
			Expect(s.clients.allKilled()).To(BeTrue())
		})
	})

	Context("with local nodes", func() {
		BeforeEach(func() {
			s = newStack(GinkgoT().TempDir(), withFlags(monitor.LocalNodes|monitor.UseAdapter))
			s.start()
		})

		It("exports nodes built by the local adapter factory", func() {
			nodes := s.objects(spa.TypeNode)
			Expect(nodes).To(HaveLen(2))
			for _, n := range nodes {
				Expect(n.Factory).To(BeEmpty())
				Expect(n.Owned).To(BeFalse())
			}
		})
	})

	Context("with a policy", func() {
		BeforeEach(func() {
			script, err := policy.CompileScript("test.lua", `
function setup_node_props(device, node)
  node["node.name"] = device["device.name"] .. "." .. node["media.class"]
  return node
end
`)
			Expect(err).NotTo(HaveOccurred())

			p, err := policy.New([]policy.Rule{
				{
					Kind:  policy.KindDevice,
					Match: map[string]string{"device.bus": "usb"},
					Set:   map[string]string{"device.description": "USB device ${device.name}"},
				},
				{
					Kind:        policy.KindNode,
					Match:       map[string]string{"media.class": "Audio/Sink"},
					MatchDevice: map[string]string{"device.name": "card*"},
					Set:         map[string]string{"node.nick": "${device.nick} output"},
				},
			}, policy.WithScript(script))
			Expect(err).NotTo(HaveOccurred())

			s = newStack(GinkgoT().TempDir(), withPolicy(p))
			s.start()
		})

		It("rewrites device and node properties before they are exported", func() {
			devices := s.objects(spa.TypeDevice)
			Expect(devices).To(HaveLen(1))
			Expect(devices[0].Properties).To(HaveKeyWithValue("device.description", "USB device card0"))

			Expect(s.objects(spa.TypeNode)).To(ConsistOf(
				HaveField("Properties", And(
					HaveKeyWithValue("node.nick", "USB card0 output"),
					HaveKeyWithValue("node.name", "card0.Audio/Sink"),
				)),
				HaveField("Properties", And(
					Not(HaveKey("node.nick")),
					HaveKeyWithValue("node.name", "card0.Audio/Source"),
				)),
			))
		})

		It("applies node rules only to devices matching the device pattern", func() {
			s.backend.plug(2, "usb0")
			Eventually(func() []host.ObjectInfo { return s.objects(spa.TypeNode) }).
				WithTimeout(2 * time.Second).Should(HaveLen(4))

			var nicks int
			for _, n := range s.objects(spa.TypeNode) {
				if _, ok := n.Properties["node.nick"]; ok {
					nicks++
				}
			}
			Expect(nicks).To(Equal(1))
		})
	})
})
