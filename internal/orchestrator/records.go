package orchestrator

import (
	"errors"
	"sync"

	"github.com/betbot/tradelink/internal/domain"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/pkg/persistence"
)

// DefaultRecordLimit 每个账号保留的报价记录条数
const DefaultRecordLimit = 1000

var _ ports.OfferRecordStore = (*FileOfferRecords)(nil)

// FileOfferRecords 报价记录（每账号一个 JSON 文件，只保留最新 limit 条）
type FileOfferRecords struct {
	mu      sync.Mutex
	store   persistence.Store
	limit   int
	records []domain.OfferRecord // 旧 → 新
}

type recordsFile struct {
	Records []domain.OfferRecord `json:"records"`
}

// OpenOfferRecords 打开账号的报价记录；文件不存在视为空
func OpenOfferRecords(svc persistence.Service, account string, limit int) (*FileOfferRecords, error) {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	r := &FileOfferRecords{
		store: svc.NewStore("offers", account, "records"),
		limit: limit,
	}
	var f recordsFile
	if err := r.store.Load(&f); err != nil && !errors.Is(err, persistence.ErrNotExists) {
		return nil, err
	}
	r.records = f.Records
	r.trimLocked()
	return r, nil
}

func (r *FileOfferRecords) trimLocked() {
	if over := len(r.records) - r.limit; over > 0 {
		r.records = append([]domain.OfferRecord(nil), r.records[over:]...)
	}
}

// Put 追加（同一 offerID 覆盖）并持久化
func (r *FileOfferRecords) Put(rec domain.OfferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].OfferID == rec.OfferID {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	r.records = append(r.records, rec)
	r.trimLocked()
	return r.store.Save(recordsFile{Records: r.records})
}

func (r *FileOfferRecords) Get(offerID string) (domain.OfferRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.OfferID == offerID {
			return rec, true
		}
	}
	return domain.OfferRecord{}, false
}

func (r *FileOfferRecords) HasSale(m domain.Marketplace, saleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Marketplace == m && rec.SaleID == saleID {
			return true
		}
	}
	return false
}

// Len 记录条数
func (r *FileOfferRecords) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Purge 清空并删除文件（登出）
func (r *FileOfferRecords) Purge() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	return r.store.Delete()
}
