package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p, err := NewPool("test", DefaultPoolConfig())
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	if p.Name() != "test" {
		t.Errorf("池名称不匹配: 期望 test, 实际 %s", p.Name())
	}
	if p.Cap() != 4 {
		t.Errorf("池容量不匹配: 期望 4, 实际 %d", p.Cap())
	}

	if _, err := NewPool("bad", &Config{Capacity: 0}); err == nil {
		t.Error("容量为 0 时应返回错误")
	}
}

func TestPoolSubmit(t *testing.T) {
	p, err := NewPool("test", &Config{Capacity: 10, ExpiryDuration: 5 * time.Second})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}); err != nil {
			t.Errorf("提交任务失败: %v", err)
			wg.Done()
		}
	}
	wg.Wait()

	if counter.Load() != 100 {
		t.Errorf("任务执行数不匹配: 期望 100, 实际 %d", counter.Load())
	}
}

func TestPoolSubmitWithContext(t *testing.T) {
	p, err := NewPool("test", &Config{Capacity: 2, ExpiryDuration: time.Second})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.SubmitWithContext(ctx, func() {}); !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled, 实际 %v", err)
	}
}

func TestPoolRelease(t *testing.T) {
	p, err := NewPool("test", DefaultPoolConfig())
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	p.Release()
	p.Release()

	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("期望 ErrPoolClosed, 实际 %v", err)
	}
}

func TestMap_OrderAndConcurrency(t *testing.T) {
	p, err := NewPool("map", &Config{Capacity: 3, ExpiryDuration: time.Second})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var running, peak atomic.Int32
	out, err := Map(context.Background(), p, 10, func(_ context.Context, i int) (int, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return i * i, nil
	})
	if err != nil {
		t.Fatalf("Map 失败: %v", err)
	}
	for i, v := range out {
		if v != i*i {
			t.Errorf("结果顺序错误: out[%d]=%d", i, v)
		}
	}
	if peak.Load() > 3 {
		t.Errorf("并发数超过池容量: %d", peak.Load())
	}
}

func TestMap_FirstErrorCancels(t *testing.T) {
	p, err := NewPool("map", &Config{Capacity: 1, ExpiryDuration: time.Second})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	boom := errors.New("boom")
	var calls atomic.Int32
	_, err = Map(context.Background(), p, 5, func(ctx context.Context, i int) (string, error) {
		calls.Add(1)
		if i == 0 {
			return "", boom
		}
		return "ok", ctx.Err()
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望 boom, 实际 %v", err)
	}
	if calls.Load() > 1 {
		t.Errorf("出错后不应继续执行任务, 实际执行 %d 次", calls.Load())
	}
}

func TestMap_PanicBecomesError(t *testing.T) {
	p, err := NewPool("map", DefaultPoolConfig())
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	_, err = Map(context.Background(), p, 2, func(_ context.Context, i int) (int, error) {
		if i == 1 {
			panic("bad page")
		}
		return i, nil
	})
	if err == nil {
		t.Fatal("panic 应转换为错误")
	}
}
