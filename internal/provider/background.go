package provider

import "sync"

type backgroundGroup struct {
	wg sync.WaitGroup
}

func (g *backgroundGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *backgroundGroup) Wait() { g.wg.Wait() }
