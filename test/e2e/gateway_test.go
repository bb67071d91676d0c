// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/tenant"
)

var _ = Describe("Tool gateway", func() {
	Describe("group-based access control", func() {
		var (
			github     *openAPIUpstream
			filesystem *openAPIUpstream
			gw         *gatewayFixture
		)

		BeforeEach(func() {
			github = newOpenAPIUpstream(githubDoc, map[string]string{
				"/merge_pull_request": `{"merged": true}`,
			})
			filesystem = newOpenAPIUpstream(filesystemDoc, map[string]string{
				"/list_dir": `{"entries": []}`,
			})
			DeferCleanup(github.Close)
			DeferCleanup(filesystem.Close)

			store := newFakeStore()
			store.groupServers["MCP-GitHub"] = []string{"github"}

			gw = startGateway(store,
				[]tenant.Entry{
					{ID: "github", Tier: gateway.TierOpenAPI},
					{ID: "filesystem", Tier: gateway.TierChildProcess},
				},
				map[string]string{"github": github.URL(), "filesystem": filesystem.URL()},
				map[string]string{"github": "gh-default", "filesystem": "fs-default"},
			)
			DeferCleanup(gw.Close)
			Expect(gw.refresh()).To(Succeed())
		})

		It("lists exactly the servers the caller's groups grant", func() {
			resp, body := gw.do(http.MethodGet, "/servers", alice(), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeJSON[[]string](body)).To(Equal([]string{"github"}))
		})

		It("refuses calls to servers outside the caller's set", func() {
			resp, _ := gw.do(http.MethodPost, "/filesystem/list_dir", alice(), `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Expect(filesystem.toolCalls()).To(BeEmpty(), "denied calls must never reach the upstream")
		})

		It("grants admins every enabled server and forwards their calls", func() {
			resp, body := gw.do(http.MethodGet, "/openapi.json", admin(), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			doc := decodeJSON[map[string]any](body)
			paths := doc["paths"].(map[string]any)
			Expect(paths).To(HaveKey("/github/merge_pull_request"))
			Expect(paths).To(HaveKey("/filesystem/list_dir"))

			resp, body = gw.do(http.MethodPost, "/filesystem/list_dir", admin(), `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(MatchJSON(`{"entries": []}`))
			Expect(filesystem.toolCalls()).To(HaveLen(1))
		})
	})

	Describe("JSON-RPC tier", func() {
		var gw *gatewayFixture

		BeforeEach(func() {
			rpc := newRPCUpstream()
			DeferCleanup(rpc.Close)

			store := newFakeStore()
			store.groupServers["MCP-Linear"] = []string{"linear"}

			gw = startGateway(store,
				[]tenant.Entry{{ID: "linear", Tier: gateway.TierStreamableHTTP}},
				map[string]string{"linear": rpc.URL + "/mcp"},
				map[string]string{"linear": "ln-default"},
			)
			DeferCleanup(gw.Close)
			Expect(gw.refresh()).To(Succeed())
		})

		linearUser := identityHeaders{email: "lin@a.com", groups: "MCP-Linear"}

		It("discovers advertised tools with their input schemas", func() {
			resp, body := gw.do(http.MethodGet, "/linear", linearUser, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			tools := decodeJSON[[]map[string]any](body)
			Expect(tools).To(HaveLen(1))
			Expect(tools[0]["tool_name"]).To(Equal("create_issue"))

			schema := tools[0]["input_schema"].(map[string]any)
			Expect(schema["required"]).To(ContainElement("title"))
		})

		It("routes calls through the JSON-RPC envelope", func() {
			resp, body := gw.do(http.MethodPost, "/linear/create_issue", linearUser, `{"title": "Fix the build"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("created: Fix the build"))
		})

		It("rejects bodies that fail the advertised schema", func() {
			resp, _ := gw.do(http.MethodPost, "/linear/create_issue", linearUser, `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("meta-tools façade", func() {
		It("ranks tools by substring relevance", func() {
			github := newOpenAPIUpstream(githubDoc, map[string]string{
				"/merge_pull_request": `{"merged": true}`,
			})
			DeferCleanup(github.Close)

			store := newFakeStore()
			store.groupServers["MCP-GitHub"] = []string{"github"}

			gw := startGateway(store,
				[]tenant.Entry{{ID: "github", Tier: gateway.TierOpenAPI}},
				map[string]string{"github": github.URL()},
				map[string]string{"github": "gh-default"},
			)
			DeferCleanup(gw.Close)
			Expect(gw.refresh()).To(Succeed())

			resp, body := gw.do(http.MethodPost, "/meta/search_tools", alice(),
				`{"query": "merge pull", "top_k": 2}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			result := decodeJSON[map[string][]map[string]any](body)
			Expect(result["results"]).ToNot(BeEmpty())
			Expect(result["results"][0]["tool_name"]).To(Equal("merge_pull_request"))
		})
	})

	Describe("tenant overrides", func() {
		It("routes one call to the overridden endpoint with the tenant credential", func() {
			defaultBackend := newOpenAPIUpstream(githubDoc, map[string]string{
				"/merge_pull_request": `{"merged": true}`,
			})
			isolated := newOpenAPIUpstream(githubDoc, map[string]string{
				"/merge_pull_request": `{"merged": true, "isolated": true}`,
			})
			DeferCleanup(defaultBackend.Close)
			DeferCleanup(isolated.Close)

			store := newFakeStore()
			store.groupServers["MCP-GitHub"] = []string{"github"}
			store.endpoints["MCP-GitHub|github"] = isolated.URL()
			store.credentials["MCP-GitHub|github|api-key"] = "tenant-secret"

			gw := startGateway(store,
				[]tenant.Entry{{ID: "github", Tier: gateway.TierOpenAPI}},
				map[string]string{"github": defaultBackend.URL()},
				map[string]string{"github": "gh-default"},
			)
			DeferCleanup(gw.Close)
			Expect(gw.refresh()).To(Succeed())

			resp, body := gw.do(http.MethodPost, "/github/merge_pull_request", alice(), `{"pr": 42}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(MatchJSON(`{"merged": true, "isolated": true}`))

			calls := isolated.toolCalls()
			Expect(calls).To(HaveLen(1), "exactly one call reaches the overridden endpoint")
			Expect(calls[0].Path).To(Equal("/merge_pull_request"))
			Expect(calls[0].Bearer).To(Equal("tenant-secret"))
			Expect(calls[0].Body).To(Equal(`{"pr": 42}`))

			Expect(defaultBackend.toolCalls()).To(BeEmpty(), "the default backend sees nothing")
		})
	})

	Describe("refresh resilience", func() {
		It("retains the previous entries of an upstream that stops responding", func() {
			github := newOpenAPIUpstream(githubDoc, map[string]string{
				"/merge_pull_request": `{"merged": true}`,
			})
			flaky := newOpenAPIUpstream(filesystemDoc, map[string]string{
				"/list_dir": `{"entries": []}`,
			})
			DeferCleanup(github.Close)

			store := newFakeStore()
			store.groupServers["MCP-GitHub"] = []string{"github", "flaky"}

			gw := startGateway(store,
				[]tenant.Entry{
					{ID: "github", Tier: gateway.TierOpenAPI},
					{ID: "flaky", Tier: gateway.TierOpenAPI},
				},
				map[string]string{"github": github.URL(), "flaky": flaky.URL()},
				map[string]string{"github": "gh-default", "flaky": "fl-default"},
			)
			DeferCleanup(gw.Close)
			Expect(gw.refresh()).To(Succeed())

			// The upstream dies; a forced refresh must not wipe its tools.
			flaky.Close()
			resp, _ := gw.do(http.MethodPost, "/refresh", admin(), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body := gw.do(http.MethodGet, "/flaky", alice(), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			tools := decodeJSON[[]map[string]any](body)
			Expect(tools).To(HaveLen(1))
			Expect(tools[0]["tool_name"]).To(Equal("list_dir"))

			resp, _ = gw.do(http.MethodGet, "/github", alice(), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK), "healthy upstreams keep updating")
		})
	})
})
