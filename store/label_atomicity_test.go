package store_test

import (
	"os"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/theater-rt/theater/store"
)

var _ = Describe("Label atomicity", func() {
	var (
		s   *store.Store
		dir string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "theater-store-ginkgo-*")
		Expect(err).NotTo(HaveOccurred())
		s, err = store.Open(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("resolves to the bound reference immediately after Label returns", func() {
		ref, err := s.Put([]byte("v1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Label("latest", ref)).To(Succeed())

		got, ok := s.Resolve("latest")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(ref))
	})

	It("never lets a concurrent reader observe a torn binding", func() {
		refOld, err := s.Put([]byte("old"))
		Expect(err).NotTo(HaveOccurred())
		refNew, err := s.Put([]byte("new"))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Label("latest", refOld)).To(Succeed())

		var wg sync.WaitGroup
		stop := make(chan struct{})
		observed := make(chan store.ContentRef, 1000)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if ref, ok := s.Resolve("latest"); ok {
						select {
						case observed <- ref:
						default:
						}
					}
				}
			}
		}()

		Expect(s.Label("latest", refNew)).To(Succeed())
		close(stop)
		wg.Wait()
		close(observed)

		for ref := range observed {
			Expect(ref == refOld || ref == refNew).To(BeTrue(), "observed an intermediate, non-bound reference")
		}
	})

	It("leaves the underlying blob untouched when a label is removed", func() {
		ref, err := s.Put([]byte("payload"))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Label("name", ref)).To(Succeed())
		Expect(s.RemoveLabel("name")).To(Succeed())

		Expect(s.Exists(ref)).To(BeTrue())
		_, ok := s.Resolve("name")
		Expect(ok).To(BeFalse())
	})
})
