// services/record_service.go
package services

import (
	"context"
	"strings"

	"github.com/aryansinha9/irl-among-us/cosmetics"
	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/persistence"
)

// RecordService 游戏记录查询
type RecordService struct {
	recorder persistence.Recorder
}

func NewRecordService(recorder persistence.Recorder) *RecordService {
	return &RecordService{recorder: recorder}
}

// LobbyHistory 返回某个大厅所有已结束的对局，按结束时间排序
func (s *RecordService) LobbyHistory(ctx context.Context, code string) ([]models.GameRecord, error) {
	const op = "services.LobbyHistory"
	id := cosmetics.NormalizeCode(code)
	if !cosmetics.ValidCode(id) {
		return nil, errs.E(errs.KindInvalidArgument, op, errInvalidCode(code))
	}
	records, err := s.recorder.ListGameRecords(ctx, id)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, err)
	}
	return records, nil
}

// PlayerStats 统计一个显示名的胜负。名字不是账号，同名玩家会合并统计。
func (s *RecordService) PlayerStats(ctx context.Context, name string) (models.PlayerStats, error) {
	const op = "services.PlayerStats"
	name = strings.TrimSpace(name)
	if name == "" {
		return models.PlayerStats{}, errs.E(errs.KindInvalidArgument, op, errEmptyName)
	}
	records, err := s.recorder.ListPlayerRecords(ctx, name)
	if err != nil {
		return models.PlayerStats{}, errs.E(errs.KindInternal, op, err)
	}

	stats := models.PlayerStats{Name: name}
	for _, r := range records {
		for _, p := range r.Players {
			if p.Name != name {
				continue
			}
			stats.TotalGames++
			if p.Outcome == "win" {
				stats.Wins++
			} else {
				stats.Losses++
			}
		}
	}
	return stats, nil
}
