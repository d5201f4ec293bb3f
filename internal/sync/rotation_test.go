package sync

import (
	"fmt"
	"testing"
)

func TestRotationWindow(t *testing.T) {
	tests := []struct {
		name       string
		dayOfYear  int
		population int
		cap        int
		wantOffset int
		wantLength int
	}{
		{"母集団ゼロ", 10, 0, 300, 0, 0},
		{"上限ゼロ", 10, 50, 0, 0, 0},
		{"上限以下は全件", 10, 200, 300, 0, 200},
		{"上限ちょうども全件", 10, 300, 300, 0, 300},
		{"初日の窓", 0, 700, 300, 0, 300},
		{"2番目の窓", 1, 700, 300, 300, 300},
		{"3番目の窓", 2, 700, 300, 600, 300},
		{"窓数で一周する", 3, 700, 300, 0, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, length := rotationWindow(tt.dayOfYear, tt.population, tt.cap)
			if offset != tt.wantOffset || length != tt.wantLength {
				t.Errorf("rotationWindow(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.dayOfYear, tt.population, tt.cap, offset, length, tt.wantOffset, tt.wantLength)
			}
		})
	}
}

func TestRotationWindow_Deterministic(t *testing.T) {
	o1, l1 := rotationWindow(42, 1000, 300)
	o2, l2 := rotationWindow(42, 1000, 300)
	if o1 != o2 || l1 != l2 {
		t.Error("同じ日の再計算は同じ窓を返すべき")
	}
}

func TestSelectRotation_WrapsAround(t *testing.T) {
	items := make([]string, 7)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}

	// 窓数は ceil(7/3) = 3。3番目の窓はオフセット6から折り返してitem-6, item-0, item-1。
	selected := selectRotation(items, 2, 3)
	want := []string{"item-6", "item-0", "item-1"}
	if len(selected) != len(want) {
		t.Fatalf("selected = %v, want %v", selected, want)
	}
	for i := range want {
		if selected[i] != want[i] {
			t.Errorf("selected[%d] = %q, want %q", i, selected[i], want[i])
		}
	}
}

func TestSelectRotation_CoversAllWithinCycle(t *testing.T) {
	// ceil(P/cap)日の連続実行で全項目が少なくとも1回選択される
	const population = 1000
	const cap = 300

	items := make([]int, population)
	for i := range items {
		items[i] = i
	}

	covered := make(map[int]bool)
	windows := (population + cap - 1) / cap
	for day := 0; day < windows; day++ {
		for _, v := range selectRotation(items, day, cap) {
			covered[v] = true
		}
	}

	if len(covered) != population {
		t.Errorf("カバーされた項目数 = %d, want %d", len(covered), population)
	}
}
