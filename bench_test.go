package elections_test

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bbengfort/elections"
)

var _ = Describe("Benchmark", func() {

	It("should run a simple benchmark", func() {
		bench, err := elections.NewBenchmark(false, 50, 4, 3)
		Ω(err).ShouldNot(HaveOccurred())

		csv, err := bench.CSV(true)
		Ω(err).ShouldNot(HaveOccurred())
		rows := strings.Split(csv, "\n")
		Ω(rows).Should(HaveLen(2))
		Ω(rows[0]).Should(Equal("concurrency,ballots,failures,duration,throughput,version,benchmark"))
		Ω(rows[1]).Should(HavePrefix("4,200,0,"))
		Ω(rows[1]).Should(HaveSuffix(",simple"))

		data, err := bench.JSON(0)
		Ω(err).ShouldNot(HaveOccurred())
		results := make(map[string]interface{})
		Ω(json.Unmarshal(data, &results)).Should(Succeed())
		Ω(results["ballots"]).Should(BeEquivalentTo(200))
		Ω(results["concurrency"]).Should(BeEquivalentTo(4))
	})

	It("should run a blast benchmark", func() {
		bench, err := elections.NewBenchmark(true, 100, 0, 2)
		Ω(err).ShouldNot(HaveOccurred())

		csv, err := bench.CSV(false)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(csv).Should(HavePrefix("100,0,"))
		Ω(csv).Should(HaveSuffix(",blast"))
	})

	It("should require candidates", func() {
		_, err := elections.NewBenchmark(false, 10, 1, 0)
		Ω(err).Should(HaveOccurred())
	})
})
