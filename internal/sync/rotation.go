package sync

// rotationWindow は日次ローテーションの選択窓を計算する。
// 追跡対象がcap件以下なら全件（オフセット0）を選択する。
// cap件を超える場合は対象を先頭からcap件ずつの窓に分割し、
// 年内通算日を窓数で割った剰余で当日の窓を決める。
// 同じ日に再実行しても同じ窓が選ばれる（決定的）。
func rotationWindow(dayOfYear, population, cap int) (offset, length int) {
	if population <= 0 || cap <= 0 {
		return 0, 0
	}
	if population <= cap {
		return 0, population
	}

	windows := (population + cap - 1) / cap
	offset = (dayOfYear % windows) * cap
	return offset, cap
}

// selectRotation はitemsから当日分の窓を選択する。
// 末尾の窓は先頭に折り返してcap件を維持する。
func selectRotation[T any](items []T, dayOfYear, cap int) []T {
	offset, length := rotationWindow(dayOfYear, len(items), cap)
	if length == 0 {
		return nil
	}

	selected := make([]T, 0, length)
	for i := 0; i < length; i++ {
		selected = append(selected, items[(offset+i)%len(items)])
	}
	return selected
}
