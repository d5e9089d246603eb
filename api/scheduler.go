package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/services"
	"github.com/malwarebo/partnersync/utils"
)

type SchedulerHandler struct {
	scheduler *services.JobScheduler
}

func CreateSchedulerHandler(scheduler *services.JobScheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

func schedulerError(err error) error {
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		return utils.ErrJobNotFound
	case errors.Is(err, services.ErrInvalidSchedule):
		return utils.ErrInvalidSchedule.WithDetails(err.Error())
	}
	return err
}

func (h *SchedulerHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (h *SchedulerHandler) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var def models.JobDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, utils.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	_, lookupErr := h.scheduler.Get(def.ID)
	job, err := h.scheduler.AddOrUpdate(def)
	if err != nil {
		writeError(w, schedulerError(err))
		return
	}

	status := http.StatusCreated
	if lookupErr == nil {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func (h *SchedulerHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, schedulerError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *SchedulerHandler) HandleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var def models.JobDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, utils.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}
	def.ID = mux.Vars(r)["id"]

	job, err := h.scheduler.AddOrUpdate(def)
	if err != nil {
		writeError(w, schedulerError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *SchedulerHandler) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Remove(mux.Vars(r)["id"]); err != nil {
		writeError(w, schedulerError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SchedulerHandler) HandlePauseJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.Pause(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, schedulerError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *SchedulerHandler) HandleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.Resume(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, schedulerError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
