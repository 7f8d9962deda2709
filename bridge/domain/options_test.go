package domain_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-bridge/bridge/domain"
	"github.com/scusemua/notebook-bridge/common/history"
	"github.com/scusemua/notebook-bridge/common/jupyter/router"
)

var _ = Describe("BridgeOptions", func() {
	It("should apply defaults", func() {
		opts := &domain.BridgeOptions{}
		Expect(opts.Validate()).To(Succeed())

		Expect(opts.SignaturePolicy).To(Equal(router.SignaturePolicyStrict))
		Expect(opts.IdlePolicy).To(Equal(domain.IdlePolicyCompleted))
		Expect(opts.HistoryBackend).To(Equal(history.BackendMemory))
		Expect(opts.HistorySize).To(Equal(domain.DefaultHistorySize))
	})

	It("should default the redis address of the redis backend", func() {
		opts := &domain.BridgeOptions{HistoryBackend: history.BackendRedis, RedisDatabase: 2}
		Expect(opts.Validate()).To(Succeed())

		historyOpts := opts.HistoryOptions()
		Expect(historyOpts.RedisAddr).To(Equal(domain.DefaultRedisAddr))
		Expect(historyOpts.RedisDB).To(Equal(2))
	})

	DescribeTable("should reject invalid values",
		func(opts *domain.BridgeOptions, expected error) {
			Expect(opts.Validate()).To(MatchError(expected))
		},
		Entry("signature policy", &domain.BridgeOptions{SignaturePolicy: "lenient"}, router.ErrUnknownSignaturePolicy),
		Entry("idle policy", &domain.BridgeOptions{IdlePolicy: "never"}, domain.ErrUnknownIdlePolicy),
		Entry("history backend", &domain.BridgeOptions{HistoryBackend: "s3"}, history.ErrUnknownBackend),
		Entry("metrics port", &domain.BridgeOptions{MetricsPort: 70000}, domain.ErrInvalidOption),
	)

	It("should not print the redis password", func() {
		opts := &domain.BridgeOptions{RedisPassword: "hunter2"}
		Expect(opts.Validate()).To(Succeed())

		Expect(opts.String()).NotTo(ContainSubstring("hunter2"))
		Expect(opts.PrettyString(2)).To(ContainSubstring("\"idle-policy\": \"completed\""))
	})
})
